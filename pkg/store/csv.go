package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/truckwise/fleetopt/pkg/model"
)

// Input file names inside a CSV data directory.
const (
	fileLocations = "locations.csv"
	fileRelations = "locations_relations.csv"
	fileVehicles  = "vehicles.csv"
	fileRoutes    = "routes.csv"
	fileSegments  = "segments.csv"
)

// unplacedMarker is the literal used for vehicles without a position.
const unplacedMarker = "N/A"

// CSVSource reads the tabular file set from a directory and writes results
// next to it. Run manifests are JSON files keyed by a UUID.
type CSVSource struct {
	dir    string
	outDir string
	nextID int64
	runs   map[int64]string // run id -> manifest path
}

// NewCSVSource opens a CSV data directory. Results go to outDir, which
// defaults to dir when empty.
func NewCSVSource(dir, outDir string) (*CSVSource, error) {
	if outDir == "" {
		outDir = dir
	}
	if _, err := os.Stat(filepath.Join(dir, fileLocations)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, dir, err)
	}
	return &CSVSource{
		dir:    dir,
		outDir: outDir,
		nextID: time.Now().Unix(),
		runs:   make(map[int64]string),
	}, nil
}

// table is a header-indexed CSV file.
type table struct {
	cols map[string]int
	rows [][]string
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", model.ErrInvalidInput, filepath.Base(path))
	}
	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.TrimSpace(name)] = i
	}
	return &table{cols: cols, rows: records[1:]}, nil
}

// get returns a cell by column name. Column names are matched exactly; the
// vehicle file's mixed-case headers are part of the format.
func (t *table) get(row []string, col string) (string, error) {
	i, ok := t.cols[col]
	if !ok {
		return "", fmt.Errorf("%w: missing column %q", model.ErrInvalidInput, col)
	}
	if i >= len(row) {
		return "", fmt.Errorf("%w: short row", model.ErrInvalidInput)
	}
	return strings.TrimSpace(row[i]), nil
}

func (t *table) getInt(row []string, col string) (int64, error) {
	s, err := t.get(row, col)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: column %q: %v", model.ErrInvalidInput, col, err)
	}
	return n, nil
}

func (t *table) getFloat(row []string, col string) (float64, error) {
	s, err := t.get(row, col)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: column %q: %v", model.ErrInvalidInput, col, err)
	}
	return v, nil
}

func (t *table) getTime(row []string, col string) (time.Time, error) {
	s, err := t.get(row, col)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := parseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: column %q: %v", model.ErrInvalidInput, col, err)
	}
	return ts, nil
}

// LoadAll reads the full file set.
func (s *CSVSource) LoadAll(ctx context.Context) (*Dataset, error) {
	ds := &Dataset{}

	locs, err := readTable(filepath.Join(s.dir, fileLocations))
	if err != nil {
		return nil, err
	}
	for _, row := range locs.rows {
		var l model.Location
		if l.ID, err = locs.getInt(row, "id"); err != nil {
			return nil, err
		}
		if l.Name, err = locs.get(row, "name"); err != nil {
			return nil, err
		}
		if l.Lat, err = locs.getFloat(row, "lat"); err != nil {
			return nil, err
		}
		if l.Lon, err = locs.getFloat(row, "long"); err != nil {
			return nil, err
		}
		hub, err := locs.get(row, "is_hub")
		if err != nil {
			return nil, err
		}
		l.IsHub = hub == "1" || strings.EqualFold(hub, "true")
		ds.Locations = append(ds.Locations, l)
	}

	rels, err := readTable(filepath.Join(s.dir, fileRelations))
	if err != nil {
		return nil, err
	}
	for _, row := range rels.rows {
		var r model.Relation
		if r.ID, err = rels.getInt(row, "id"); err != nil {
			return nil, err
		}
		if r.FromID, err = rels.getInt(row, "id_loc_1"); err != nil {
			return nil, err
		}
		if r.ToID, err = rels.getInt(row, "id_loc_2"); err != nil {
			return nil, err
		}
		if r.DistanceKM, err = rels.getFloat(row, "dist"); err != nil {
			return nil, err
		}
		if r.TravelMinutes, err = rels.getFloat(row, "time"); err != nil {
			return nil, err
		}
		ds.Relations = append(ds.Relations, r)
	}

	vehs, err := readTable(filepath.Join(s.dir, fileVehicles))
	if err != nil {
		return nil, err
	}
	for _, row := range vehs.rows {
		v := &model.Vehicle{}
		if v.ID, err = vehs.getInt(row, "Id"); err != nil {
			return nil, err
		}
		if v.Registration, err = vehs.get(row, "registration_number"); err != nil {
			return nil, err
		}
		if v.Brand, err = vehs.get(row, "brand"); err != nil {
			return nil, err
		}
		if v.ServiceIntervalKM, err = vehs.getInt(row, "service_interval_km"); err != nil {
			return nil, err
		}
		if v.LeasingStartKM, err = vehs.getInt(row, "Leasing_start_km"); err != nil {
			return nil, err
		}
		if v.LeasingLimitKM, err = vehs.getInt(row, "leasing_limit_km"); err != nil {
			return nil, err
		}
		if v.LeaseStart, err = vehs.getTime(row, "leasing_start_date"); err != nil {
			return nil, err
		}
		if v.LeaseEnd, err = vehs.getTime(row, "leasing_end_date"); err != nil {
			return nil, err
		}
		if v.CurrentOdometerKM, err = vehs.getInt(row, "current_odometer_km"); err != nil {
			return nil, err
		}
		loc, err := vehs.get(row, "Current_location_id")
		if err != nil {
			return nil, err
		}
		if loc != "" && !strings.EqualFold(loc, unplacedMarker) {
			if v.CurrentLocationID, err = strconv.ParseInt(loc, 10, 64); err != nil {
				return nil, fmt.Errorf("%w: Current_location_id %q", model.ErrInvalidInput, loc)
			}
		}
		ds.Vehicles = append(ds.Vehicles, v)
	}

	routes, err := readTable(filepath.Join(s.dir, fileRoutes))
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*model.Route, len(routes.rows))
	for _, row := range routes.rows {
		r := &model.Route{}
		if r.ID, err = routes.getInt(row, "id"); err != nil {
			return nil, err
		}
		if r.Start, err = routes.getTime(row, "start_datetime"); err != nil {
			return nil, err
		}
		if r.End, err = routes.getTime(row, "end_datetime"); err != nil {
			return nil, err
		}
		if r.DistanceKM, err = routes.getFloat(row, "distance_km"); err != nil {
			return nil, err
		}
		byID[r.ID] = r
		ds.Routes = append(ds.Routes, r)
	}

	segs, err := readTable(filepath.Join(s.dir, fileSegments))
	if err != nil {
		return nil, err
	}
	for _, row := range segs.rows {
		var sg model.Segment
		if sg.ID, err = segs.getInt(row, "id"); err != nil {
			return nil, err
		}
		if sg.RouteID, err = segs.getInt(row, "route_id"); err != nil {
			return nil, err
		}
		seq, err := segs.getInt(row, "seq")
		if err != nil {
			return nil, err
		}
		sg.Seq = int(seq)
		if sg.StartLocID, err = segs.getInt(row, "start_loc_id"); err != nil {
			return nil, err
		}
		if sg.EndLocID, err = segs.getInt(row, "end_loc_id"); err != nil {
			return nil, err
		}
		if sg.Start, err = segs.getTime(row, "start_datetime"); err != nil {
			return nil, err
		}
		if sg.End, err = segs.getTime(row, "end_datetime"); err != nil {
			return nil, err
		}
		if sg.RelationID, err = segs.getInt(row, "relation_id"); err != nil {
			return nil, err
		}
		r, ok := byID[sg.RouteID]
		if !ok {
			return nil, fmt.Errorf("%w: segment %d references unknown route %d", model.ErrInvalidInput, sg.ID, sg.RouteID)
		}
		r.Segments = append(r.Segments, sg)
	}

	normalizeRoutes(ds.Routes)
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

type runManifest struct {
	RunID     int64           `json:"run_id"`
	UUID      string          `json:"uuid"`
	StartedAt string          `json:"started_at"`
	Config    json.RawMessage `json:"config"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Stats     *RunStats       `json:"stats,omitempty"`
}

// StartRun writes a run manifest and returns its id.
func (s *CSVSource) StartRun(ctx context.Context, configJSON []byte) (int64, error) {
	s.nextID++
	id := s.nextID
	m := runManifest{
		RunID:     id,
		UUID:      uuid.NewString(),
		StartedAt: time.Now().UTC().Format(timeLayout),
		Config:    configJSON,
		Status:    "running",
	}
	path := filepath.Join(s.outDir, fmt.Sprintf("run_%d_%s.json", id, m.UUID))
	if err := writeJSONFile(path, &m); err != nil {
		return 0, err
	}
	s.runs[id] = path
	return id, nil
}

// CompleteRun rewrites the manifest with the terminal status and stats.
func (s *CSVSource) CompleteRun(ctx context.Context, runID int64, stats RunStats, runErr error) error {
	path, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("unknown run %d", runID)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var m runManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("corrupt run manifest %s: %w", path, err)
	}
	m.Stats = &stats
	m.Status = "completed"
	if runErr != nil {
		m.Status = "failed"
		m.Error = runErr.Error()
	} else if stats.Incomplete {
		m.Status = "cancelled"
	}
	return writeJSONFile(path, &m)
}

// SaveResults writes the assignment list and the terminal states as CSV.
// Both files land via rename so a crash never leaves half a result.
func (s *CSVSource) SaveResults(ctx context.Context, runID int64, assignments []model.Assignment, states map[int64]*model.VehicleState) error {
	asgRows := [][]string{{
		"route_id", "vehicle_id", "date", "distance_km", "start_loc_id", "end_loc_id",
		"odometer_before", "odometer_after", "annual_km_before", "annual_km_after",
		"requires_relocation", "requires_service", "swap_relaxed", "cost",
		"relocation_from", "relocation_to", "relocation_km", "relocation_minutes", "overage_km",
	}}
	for _, a := range assignments {
		asgRows = append(asgRows, []string{
			strconv.FormatInt(a.RouteID, 10),
			strconv.FormatInt(a.VehicleID, 10),
			a.Date.Format(timeLayout),
			formatFloat(a.RouteDistanceKM),
			strconv.FormatInt(a.StartLocationID, 10),
			strconv.FormatInt(a.EndLocationID, 10),
			strconv.FormatInt(a.OdometerBefore, 10),
			strconv.FormatInt(a.OdometerAfter, 10),
			strconv.FormatInt(a.AnnualKMBefore, 10),
			strconv.FormatInt(a.AnnualKMAfter, 10),
			formatBool(a.RequiresRelocation),
			formatBool(a.RequiresService),
			formatBool(a.SwapRelaxed),
			formatFloat(a.Cost),
			strconv.FormatInt(a.RelocationFromID, 10),
			strconv.FormatInt(a.RelocationToID, 10),
			formatFloat(a.RelocationKM),
			formatFloat(a.RelocationMinutes),
			strconv.FormatInt(a.OverageKM, 10),
		})
	}

	stateRows := [][]string{{
		"vehicle_id", "current_location_id", "odometer_km", "km_since_service",
		"km_this_lease_year", "lifetime_km", "available_from", "lease_cycle",
		"routes_assigned", "services_done", "total_relocations",
		"relocation_cost", "overage_cost", "service_cost",
	}}
	for _, id := range sortedStateIDs(states) {
		st := states[id]
		stateRows = append(stateRows, []string{
			strconv.FormatInt(st.VehicleID, 10),
			strconv.FormatInt(st.CurrentLocationID, 10),
			strconv.FormatInt(st.OdometerKM, 10),
			strconv.FormatInt(st.KMSinceService, 10),
			strconv.FormatInt(st.KMThisLeaseYear, 10),
			strconv.FormatInt(st.LifetimeKM, 10),
			st.AvailableFrom.Format(timeLayout),
			strconv.Itoa(st.LeaseCycle),
			strconv.Itoa(st.RoutesAssigned),
			strconv.Itoa(st.ServicesDone),
			strconv.Itoa(st.TotalRelocations),
			formatFloat(st.TotalRelocationCost),
			formatFloat(st.TotalOverageCost),
			formatFloat(st.ServiceCostAccrued),
		})
	}

	if err := writeCSVFile(filepath.Join(s.outDir, fmt.Sprintf("assignments_%d.csv", runID)), asgRows); err != nil {
		return err
	}
	return writeCSVFile(filepath.Join(s.outDir, fmt.Sprintf("vehicle_states_%d.csv", runID)), stateRows)
}

// SavePlacement writes a copy of the vehicles file with placed positions
// substituted, alongside the other run outputs.
func (s *CSVSource) SavePlacement(ctx context.Context, runID int64, placements map[int64]int64) error {
	rows, err := s.placedVehicleRows(placements)
	if err != nil {
		return err
	}
	return writeCSVFile(filepath.Join(s.outDir, fmt.Sprintf("vehicles_with_placement_%d.csv", runID)), rows)
}

// UpdateVehicleLocations rewrites the vehicles file with new positions.
func (s *CSVSource) UpdateVehicleLocations(ctx context.Context, locations map[int64]int64) error {
	rows, err := s.placedVehicleRows(locations)
	if err != nil {
		return err
	}
	return writeCSVFile(filepath.Join(s.dir, fileVehicles), rows)
}

// placedVehicleRows rebuilds the vehicles table with Current_location_id
// replaced per the given vehicle -> location map. Vehicles not in the map
// keep their original cell.
func (s *CSVSource) placedVehicleRows(locations map[int64]int64) ([][]string, error) {
	t, err := readTable(filepath.Join(s.dir, fileVehicles))
	if err != nil {
		return nil, err
	}
	idCol, ok := t.cols["Id"]
	if !ok {
		return nil, fmt.Errorf("%w: missing column %q", model.ErrInvalidInput, "Id")
	}
	locCol, ok := t.cols["Current_location_id"]
	if !ok {
		return nil, fmt.Errorf("%w: missing column %q", model.ErrInvalidInput, "Current_location_id")
	}

	header := make([]string, len(t.cols))
	for name, i := range t.cols {
		header[i] = name
	}
	rows := [][]string{header}
	for _, row := range t.rows {
		id, err := strconv.ParseInt(strings.TrimSpace(row[idCol]), 10, 64)
		if err == nil {
			if loc, ok := locations[id]; ok {
				row[locCol] = strconv.FormatInt(loc, 10)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Close is a no-op for the file backend.
func (s *CSVSource) Close() error { return nil }

func writeCSVFile(path string, rows [][]string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return os.Rename(tmp, path)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func sortedStateIDs(states map[int64]*model.VehicleState) []int64 {
	ids := make([]int64, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
