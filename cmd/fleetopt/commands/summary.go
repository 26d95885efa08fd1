package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/truckwise/fleetopt/pkg/engine"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#04B575")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D7D7D")).
			Width(22)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			Padding(0, 2)
)

// renderSummary builds the terminal report for a finished run.
func renderSummary(out *engine.Outcome) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("fleetopt %s — run %d", out.Mode, out.RunID)))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	if out.Placement != nil {
		q := out.Placement.Quality
		row("Strategy", q.Strategy)
		row("Vehicles placed", fmt.Sprintf("%d across %d locations", q.TotalVehicles, q.LocationsUsed))
		row("Max concentration", fmt.Sprintf("%.1f%%", q.MaxConcentration*100))
		row("Demand coverage", fmt.Sprintf("%.1f%%", q.DemandCoverage*100))
		row("Demand satisfaction", fmt.Sprintf("%.1f%%", q.DemandSatisfaction*100))
		row("Est. relocation cost", fmt.Sprintf("%.0f", q.EstimatedRelocationCost))
		b.WriteString(renderDistribution(q.Distribution))
	}

	if out.Assignment != nil {
		res := out.Assignment
		row("Routes assigned", fmt.Sprintf("%d", res.RoutesAssigned))
		if res.RoutesUnassigned > 0 {
			b.WriteString(labelStyle.Render("Routes unassigned"))
			b.WriteString(warnStyle.Render(fmt.Sprintf("%d", res.RoutesUnassigned)))
			b.WriteString("\n")
		}
		row("Total cost", fmt.Sprintf("%.2f", res.TotalCost))
		row("  relocation", fmt.Sprintf("%.2f", res.TotalRelocationCost))
		row("  overage", fmt.Sprintf("%.2f", res.TotalOverageCost))
		row("  service", fmt.Sprintf("%.2f", res.TotalServiceCost))
		row("Active vehicles", fmt.Sprintf("%d", out.Stats.ActiveVehicles))
		if out.Elapsed.Seconds() > 0 {
			row("Throughput", fmt.Sprintf("%.0f routes/s",
				float64(res.RoutesAssigned+res.RoutesUnassigned)/out.Elapsed.Seconds()))
		}
		if res.Incomplete {
			b.WriteString(warnStyle.Render("RUN CANCELLED — partial result"))
			b.WriteString("\n")
		}
	}

	row("Oracle cache", fmt.Sprintf("%d hits / %d misses (%.1f%%), %d pathfinds",
		out.OracleStats.Hits, out.OracleStats.Misses, out.OracleStats.HitRatio()*100, out.OracleStats.Pathfinds))
	row("Elapsed", out.Elapsed.String())

	return boxStyle.Render(b.String())
}

// renderDistribution shows the top placement locations.
func renderDistribution(dist map[int64]int) string {
	if len(dist) == 0 {
		return ""
	}
	type entry struct {
		loc int64
		n   int
	}
	entries := make([]entry, 0, len(dist))
	for loc, n := range dist {
		entries = append(entries, entry{loc, n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].n != entries[j].n {
			return entries[i].n > entries[j].n
		}
		return entries[i].loc < entries[j].loc
	})
	if len(entries) > 5 {
		entries = entries[:5]
	}
	var b strings.Builder
	b.WriteString(labelStyle.Render("Top locations"))
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("L%d:%d", e.loc, e.n))
	}
	b.WriteString(valueStyle.Render(strings.Join(parts, "  ")))
	b.WriteString("\n")
	return b.String()
}
