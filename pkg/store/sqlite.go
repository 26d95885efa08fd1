package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/truckwise/fleetopt/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS locations (
	id      INTEGER PRIMARY KEY,
	name    TEXT NOT NULL,
	lat     REAL NOT NULL DEFAULT 0,
	long    REAL NOT NULL DEFAULT 0,
	is_hub  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS locations_relations (
	id        INTEGER PRIMARY KEY,
	id_loc_1  INTEGER NOT NULL REFERENCES locations(id),
	id_loc_2  INTEGER NOT NULL REFERENCES locations(id),
	dist      REAL NOT NULL,
	time      REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS vehicles (
	id                   INTEGER PRIMARY KEY,
	registration_number  TEXT NOT NULL DEFAULT '',
	brand                TEXT NOT NULL DEFAULT '',
	service_interval_km  INTEGER NOT NULL DEFAULT 0,
	leasing_start_km     INTEGER NOT NULL DEFAULT 0,
	leasing_limit_km     INTEGER NOT NULL DEFAULT 0,
	leasing_start_date   TEXT NOT NULL DEFAULT '',
	leasing_end_date     TEXT NOT NULL DEFAULT '',
	current_odometer_km  INTEGER NOT NULL DEFAULT 0,
	current_location_id  INTEGER
);

CREATE TABLE IF NOT EXISTS routes (
	id              INTEGER PRIMARY KEY,
	start_datetime  TEXT NOT NULL,
	end_datetime    TEXT NOT NULL,
	distance_km     REAL NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS segments (
	id              INTEGER PRIMARY KEY,
	route_id        INTEGER NOT NULL REFERENCES routes(id),
	seq             INTEGER NOT NULL,
	start_loc_id    INTEGER NOT NULL,
	end_loc_id      INTEGER NOT NULL,
	start_datetime  TEXT NOT NULL,
	end_datetime    TEXT NOT NULL,
	relation_id     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_segments_route ON segments(route_id, seq);

CREATE TABLE IF NOT EXISTS algorithm_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid          TEXT NOT NULL,
	config_json   TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	error         TEXT NOT NULL DEFAULT '',
	stats_json    TEXT NOT NULL DEFAULT '',
	started_at    TEXT NOT NULL,
	completed_at  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assignments (
	run_id              INTEGER NOT NULL REFERENCES algorithm_runs(id),
	route_id            INTEGER NOT NULL,
	vehicle_id          INTEGER NOT NULL,
	date                TEXT NOT NULL,
	distance_km         REAL NOT NULL,
	start_loc_id        INTEGER NOT NULL,
	end_loc_id          INTEGER NOT NULL,
	odometer_before     INTEGER NOT NULL,
	odometer_after      INTEGER NOT NULL,
	annual_km_before    INTEGER NOT NULL,
	annual_km_after     INTEGER NOT NULL,
	requires_relocation INTEGER NOT NULL DEFAULT 0,
	requires_service    INTEGER NOT NULL DEFAULT 0,
	swap_relaxed        INTEGER NOT NULL DEFAULT 0,
	cost                REAL NOT NULL,
	relocation_from     INTEGER NOT NULL DEFAULT 0,
	relocation_to       INTEGER NOT NULL DEFAULT 0,
	relocation_km       REAL NOT NULL DEFAULT 0,
	relocation_minutes  REAL NOT NULL DEFAULT 0,
	overage_km          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, route_id)
);

CREATE TABLE IF NOT EXISTS vehicle_states (
	run_id              INTEGER NOT NULL REFERENCES algorithm_runs(id),
	vehicle_id          INTEGER NOT NULL,
	current_location_id INTEGER NOT NULL,
	odometer_km         INTEGER NOT NULL,
	km_since_service    INTEGER NOT NULL,
	km_this_lease_year  INTEGER NOT NULL,
	lifetime_km         INTEGER NOT NULL,
	available_from      TEXT NOT NULL,
	lease_cycle         INTEGER NOT NULL,
	routes_assigned     INTEGER NOT NULL,
	services_done       INTEGER NOT NULL,
	total_relocations   INTEGER NOT NULL,
	relocation_cost     REAL NOT NULL,
	overage_cost        REAL NOT NULL,
	service_cost        REAL NOT NULL,
	PRIMARY KEY (run_id, vehicle_id)
);

CREATE TABLE IF NOT EXISTS placements (
	run_id      INTEGER NOT NULL REFERENCES algorithm_runs(id),
	vehicle_id  INTEGER NOT NULL,
	location_id INTEGER NOT NULL,
	PRIMARY KEY (run_id, vehicle_id)
);

CREATE TABLE IF NOT EXISTS relocations (
	run_id      INTEGER NOT NULL REFERENCES algorithm_runs(id),
	vehicle_id  INTEGER NOT NULL,
	moved_at    TEXT NOT NULL,
	from_loc    INTEGER NOT NULL,
	to_loc      INTEGER NOT NULL
);
`

// SQLiteSource is the relational backend, a single-file SQLite database via
// database/sql.
type SQLiteSource struct {
	db *sql.DB
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpen int
	MaxIdle int
}

// DefaultPool is suitable for the embedded single-writer engine.
var DefaultPool = PoolConfig{MaxOpen: 4, MaxIdle: 2}

// NewSQLiteSource opens (creating if needed) the database at path and ensures
// the schema.
func NewSQLiteSource(path string, pool PoolConfig) (*SQLiteSource, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrUnavailable, path, err)
	}
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// Close releases the pool.
func (s *SQLiteSource) Close() error { return s.db.Close() }

// Health pings the database.
func (s *SQLiteSource) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Info reports per-table row counts for the diagnostics endpoint.
func (s *SQLiteSource) Info(ctx context.Context) (map[string]int64, error) {
	tables := []string{"locations", "locations_relations", "vehicles", "routes", "segments", "algorithm_runs", "assignments", "placements"}
	out := make(map[string]int64, len(tables))
	for _, t := range tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", t, err)
		}
		out[t] = n
	}
	return out, nil
}

// LoadAll loads the dataset; only pending routes are returned.
func (s *SQLiteSource) LoadAll(ctx context.Context) (*Dataset, error) {
	ds := &Dataset{}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, lat, long, is_hub FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading locations: %w", err)
	}
	for rows.Next() {
		var l model.Location
		var hub int
		if err := rows.Scan(&l.ID, &l.Name, &l.Lat, &l.Lon, &hub); err != nil {
			rows.Close()
			return nil, err
		}
		l.IsHub = hub != 0
		ds.Locations = append(ds.Locations, l)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, id_loc_1, id_loc_2, dist, time FROM locations_relations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading relations: %w", err)
	}
	for rows.Next() {
		var r model.Relation
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.DistanceKM, &r.TravelMinutes); err != nil {
			rows.Close()
			return nil, err
		}
		ds.Relations = append(ds.Relations, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, registration_number, brand, service_interval_km, leasing_start_km,
		       leasing_limit_km, leasing_start_date, leasing_end_date,
		       current_odometer_km, current_location_id
		FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading vehicles: %w", err)
	}
	for rows.Next() {
		v := &model.Vehicle{}
		var leaseStart, leaseEnd string
		var loc sql.NullInt64
		if err := rows.Scan(&v.ID, &v.Registration, &v.Brand, &v.ServiceIntervalKM,
			&v.LeasingStartKM, &v.LeasingLimitKM, &leaseStart, &leaseEnd,
			&v.CurrentOdometerKM, &loc); err != nil {
			rows.Close()
			return nil, err
		}
		if v.LeaseStart, err = parseTimestamp(leaseStart); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: vehicle %d leasing_start_date: %v", model.ErrInvalidInput, v.ID, err)
		}
		if v.LeaseEnd, err = parseTimestamp(leaseEnd); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: vehicle %d leasing_end_date: %v", model.ErrInvalidInput, v.ID, err)
		}
		if loc.Valid {
			v.CurrentLocationID = loc.Int64
		}
		ds.Vehicles = append(ds.Vehicles, v)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, start_datetime, end_datetime, distance_km FROM routes WHERE status = 'pending' ORDER BY start_datetime, id`)
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}
	byID := make(map[int64]*model.Route)
	for rows.Next() {
		r := &model.Route{}
		var start, end string
		if err := rows.Scan(&r.ID, &start, &end, &r.DistanceKM); err != nil {
			rows.Close()
			return nil, err
		}
		if r.Start, err = parseTimestamp(start); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: route %d: %v", model.ErrInvalidInput, r.ID, err)
		}
		if r.End, err = parseTimestamp(end); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: route %d: %v", model.ErrInvalidInput, r.ID, err)
		}
		byID[r.ID] = r
		ds.Routes = append(ds.Routes, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, route_id, seq, start_loc_id, end_loc_id, start_datetime, end_datetime, relation_id
		FROM segments ORDER BY route_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("loading segments: %w", err)
	}
	for rows.Next() {
		var sg model.Segment
		var start, end string
		if err := rows.Scan(&sg.ID, &sg.RouteID, &sg.Seq, &sg.StartLocID, &sg.EndLocID, &start, &end, &sg.RelationID); err != nil {
			rows.Close()
			return nil, err
		}
		r, ok := byID[sg.RouteID]
		if !ok {
			continue // segment of a non-pending route
		}
		if sg.Start, err = parseTimestamp(start); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: segment %d: %v", model.ErrInvalidInput, sg.ID, err)
		}
		if sg.End, err = parseTimestamp(end); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: segment %d: %v", model.ErrInvalidInput, sg.ID, err)
		}
		r.Segments = append(r.Segments, sg)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	normalizeRoutes(ds.Routes)
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// StartRun records a new run and returns its id.
func (s *SQLiteSource) StartRun(ctx context.Context, configJSON []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO algorithm_runs (uuid, config_json, started_at) VALUES (?, ?, ?)`,
		uuid.NewString(), string(configJSON), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("starting run: %w", err)
	}
	return res.LastInsertId()
}

// CompleteRun stores the terminal status and stats.
func (s *SQLiteSource) CompleteRun(ctx context.Context, runID int64, stats RunStats, runErr error) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	status, errText := "completed", ""
	if runErr != nil {
		status, errText = "failed", runErr.Error()
	} else if stats.Incomplete {
		status = "cancelled"
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE algorithm_runs SET status = ?, error = ?, stats_json = ?, completed_at = ? WHERE id = ?`,
		status, errText, string(statsJSON), time.Now().UTC().Format(timeLayout), runID)
	if err != nil {
		return fmt.Errorf("completing run %d: %w", runID, err)
	}
	return nil
}

// SaveResults persists assignments, terminal states, and the relocation log
// in a single transaction, and marks the assigned routes done.
func (s *SQLiteSource) SaveResults(ctx context.Context, runID int64, assignments []model.Assignment, states map[int64]*model.VehicleState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	asgStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assignments (
			run_id, route_id, vehicle_id, date, distance_km, start_loc_id, end_loc_id,
			odometer_before, odometer_after, annual_km_before, annual_km_after,
			requires_relocation, requires_service, swap_relaxed, cost,
			relocation_from, relocation_to, relocation_km, relocation_minutes, overage_km
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer asgStmt.Close()

	for _, a := range assignments {
		if _, err := asgStmt.ExecContext(ctx,
			runID, a.RouteID, a.VehicleID, a.Date.Format(timeLayout), a.RouteDistanceKM,
			a.StartLocationID, a.EndLocationID,
			a.OdometerBefore, a.OdometerAfter, a.AnnualKMBefore, a.AnnualKMAfter,
			boolInt(a.RequiresRelocation), boolInt(a.RequiresService), boolInt(a.SwapRelaxed), a.Cost,
			a.RelocationFromID, a.RelocationToID, a.RelocationKM, a.RelocationMinutes, a.OverageKM,
		); err != nil {
			return fmt.Errorf("saving assignment for route %d: %w", a.RouteID, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE routes SET status = 'assigned' WHERE id = ?`, a.RouteID); err != nil {
			return err
		}
	}

	stStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicle_states (
			run_id, vehicle_id, current_location_id, odometer_km, km_since_service,
			km_this_lease_year, lifetime_km, available_from, lease_cycle,
			routes_assigned, services_done, total_relocations,
			relocation_cost, overage_cost, service_cost
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stStmt.Close()

	for _, id := range sortedStateIDs(states) {
		st := states[id]
		if _, err := stStmt.ExecContext(ctx,
			runID, st.VehicleID, st.CurrentLocationID, st.OdometerKM, st.KMSinceService,
			st.KMThisLeaseYear, st.LifetimeKM, st.AvailableFrom.Format(timeLayout), st.LeaseCycle,
			st.RoutesAssigned, st.ServicesDone, st.TotalRelocations,
			st.TotalRelocationCost, st.TotalOverageCost, st.ServiceCostAccrued,
		); err != nil {
			return fmt.Errorf("saving state for vehicle %d: %w", st.VehicleID, err)
		}
		for _, r := range st.Relocations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO relocations (run_id, vehicle_id, moved_at, from_loc, to_loc) VALUES (?, ?, ?, ?, ?)`,
				runID, st.VehicleID, r.At.Format(timeLayout), r.FromID, r.ToID,
			); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// SavePlacement persists the computed placement in one transaction.
func (s *SQLiteSource) SavePlacement(ctx context.Context, runID int64, placements map[int64]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()
	for _, id := range sortedKeys(placements) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO placements (run_id, vehicle_id, location_id) VALUES (?, ?, ?)`,
			runID, id, placements[id]); err != nil {
			return fmt.Errorf("saving placement for vehicle %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// UpdateVehicleLocations writes back terminal positions.
func (s *SQLiteSource) UpdateVehicleLocations(ctx context.Context, locations map[int64]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()
	for _, id := range sortedKeys(locations) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE vehicles SET current_location_id = ? WHERE id = ?`, locations[id], id); err != nil {
			return fmt.Errorf("updating vehicle %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// CSV import ----------------------------------------------------------------

// importKind pairs a table with the headers that identify its CSV file.
type importKind struct {
	name    string
	headers []string
}

var importKinds = []importKind{
	{"locations", []string{"id", "name", "lat", "long", "is_hub"}},
	{"locations_relations", []string{"id", "id_loc_1", "id_loc_2", "dist", "time"}},
	{"vehicles", []string{"Id", "registration_number", "brand", "service_interval_km", "Leasing_start_km", "leasing_limit_km", "leasing_start_date", "leasing_end_date", "current_odometer_km", "Current_location_id"}},
	{"routes", []string{"id", "start_datetime", "end_datetime", "distance_km"}},
	{"segments", []string{"id", "route_id", "seq", "start_loc_id", "end_loc_id", "start_datetime", "end_datetime", "relation_id"}},
}

// detectKind matches a header row against the known file kinds; at least 80%
// of a kind's expected columns must be present.
func detectKind(cols map[string]int) (importKind, bool) {
	var best importKind
	bestScore := 0.0
	for _, k := range importKinds {
		found := 0
		for _, h := range k.headers {
			if _, ok := cols[h]; ok {
				found++
			}
		}
		score := float64(found) / float64(len(k.headers))
		if score > bestScore {
			best, bestScore = k, score
		}
	}
	return best, bestScore >= 0.8
}

// ImportCSV detects the file's table by header overlap and upserts its rows.
// Returns the detected table name and the number of rows written.
func (s *SQLiteSource) ImportCSV(ctx context.Context, path string) (string, int, error) {
	t, err := readTable(path)
	if err != nil {
		return "", 0, err
	}
	kind, ok := detectKind(t.cols)
	if !ok {
		return "", 0, fmt.Errorf("%w: %s matches no known table", model.ErrInvalidInput, filepath.Base(path))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	n := 0
	for _, row := range t.rows {
		if err := s.upsertRow(ctx, tx, kind.name, t, row); err != nil {
			return "", 0, fmt.Errorf("%s row %d: %w", kind.name, n+1, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return "", 0, err
	}
	return kind.name, n, nil
}

func (s *SQLiteSource) upsertRow(ctx context.Context, tx *sql.Tx, table string, t *table, row []string) error {
	switch table {
	case "locations":
		id, err := t.getInt(row, "id")
		if err != nil {
			return err
		}
		name, _ := t.get(row, "name")
		lat, _ := t.getFloat(row, "lat")
		lon, _ := t.getFloat(row, "long")
		hub, _ := t.get(row, "is_hub")
		_, err = tx.ExecContext(ctx, `
			INSERT INTO locations (id, name, lat, long, is_hub) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, lat = excluded.lat,
				long = excluded.long, is_hub = excluded.is_hub`,
			id, name, lat, lon, boolInt(hub == "1" || strings.EqualFold(hub, "true")))
		return err

	case "locations_relations":
		id, err := t.getInt(row, "id")
		if err != nil {
			return err
		}
		l1, _ := t.getInt(row, "id_loc_1")
		l2, _ := t.getInt(row, "id_loc_2")
		dist, _ := t.getFloat(row, "dist")
		mins, _ := t.getFloat(row, "time")
		_, err = tx.ExecContext(ctx, `
			INSERT INTO locations_relations (id, id_loc_1, id_loc_2, dist, time) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET id_loc_1 = excluded.id_loc_1,
				id_loc_2 = excluded.id_loc_2, dist = excluded.dist, time = excluded.time`,
			id, l1, l2, dist, mins)
		return err

	case "vehicles":
		id, err := t.getInt(row, "Id")
		if err != nil {
			return err
		}
		reg, _ := t.get(row, "registration_number")
		brand, _ := t.get(row, "brand")
		interval, _ := t.getInt(row, "service_interval_km")
		startKM, _ := t.getInt(row, "Leasing_start_km")
		limitKM, _ := t.getInt(row, "leasing_limit_km")
		leaseStart, _ := t.get(row, "leasing_start_date")
		leaseEnd, _ := t.get(row, "leasing_end_date")
		odo, _ := t.getInt(row, "current_odometer_km")
		var loc any
		if raw, _ := t.get(row, "Current_location_id"); raw != "" && !strings.EqualFold(raw, unplacedMarker) {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: Current_location_id %q", model.ErrInvalidInput, raw)
			}
			loc = v
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO vehicles (id, registration_number, brand, service_interval_km,
				leasing_start_km, leasing_limit_km, leasing_start_date, leasing_end_date,
				current_odometer_km, current_location_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET registration_number = excluded.registration_number,
				brand = excluded.brand, service_interval_km = excluded.service_interval_km,
				leasing_start_km = excluded.leasing_start_km, leasing_limit_km = excluded.leasing_limit_km,
				leasing_start_date = excluded.leasing_start_date, leasing_end_date = excluded.leasing_end_date,
				current_odometer_km = excluded.current_odometer_km,
				current_location_id = excluded.current_location_id`,
			id, reg, brand, interval, startKM, limitKM, leaseStart, leaseEnd, odo, loc)
		return err

	case "routes":
		id, err := t.getInt(row, "id")
		if err != nil {
			return err
		}
		start, _ := t.get(row, "start_datetime")
		end, _ := t.get(row, "end_datetime")
		dist, _ := t.getFloat(row, "distance_km")
		_, err = tx.ExecContext(ctx, `
			INSERT INTO routes (id, start_datetime, end_datetime, distance_km) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET start_datetime = excluded.start_datetime,
				end_datetime = excluded.end_datetime, distance_km = excluded.distance_km`,
			id, start, end, dist)
		return err

	case "segments":
		id, err := t.getInt(row, "id")
		if err != nil {
			return err
		}
		routeID, _ := t.getInt(row, "route_id")
		seq, _ := t.getInt(row, "seq")
		startLoc, _ := t.getInt(row, "start_loc_id")
		endLoc, _ := t.getInt(row, "end_loc_id")
		start, _ := t.get(row, "start_datetime")
		end, _ := t.get(row, "end_datetime")
		relID, _ := t.getInt(row, "relation_id")
		_, err = tx.ExecContext(ctx, `
			INSERT INTO segments (id, route_id, seq, start_loc_id, end_loc_id, start_datetime, end_datetime, relation_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET route_id = excluded.route_id, seq = excluded.seq,
				start_loc_id = excluded.start_loc_id, end_loc_id = excluded.end_loc_id,
				start_datetime = excluded.start_datetime, end_datetime = excluded.end_datetime,
				relation_id = excluded.relation_id`,
			id, routeID, seq, startLoc, endLoc, start, end, relID)
		return err
	}
	return fmt.Errorf("unknown table %q", table)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(m map[int64]int64) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
