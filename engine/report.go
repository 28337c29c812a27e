package engine

import "time"

// PlanEntry is one row of the resolved plan as surfaced in reports and in
// system-metadata.json.
type PlanEntry struct {
	Ref      string `json:"ref"`
	Instance string `json:"instance"`
	Target   string `json:"target"`
}

// Report summarizes a composition: what was resolved, in what order, and how
// much was written. Dry runs return the same report with Files zero and no
// output path.
type Report struct {
	SystemName       string         `json:"system_name"`
	JobID            string         `json:"job_id"`
	DryRun           bool           `json:"dry_run"`
	OutputPath       string         `json:"output_path,omitempty"`
	Plan             []PlanEntry    `json:"plan"`
	CountsByCategory map[string]int `json:"counts_by_category"`
	Files            int            `json:"files"`
	Warnings         []string       `json:"warnings,omitempty"`
	CatalogSnapshot  string         `json:"catalog_snapshot"`
	DurationMS       int64          `json:"duration_ms"`
}

func buildReport(p *Plan, jobID string, dryRun bool, start time.Time) *Report {
	r := &Report{
		SystemName:       p.Manifest.SystemName,
		JobID:            jobID,
		DryRun:           dryRun,
		CountsByCategory: make(map[string]int),
		Warnings:         p.Warnings,
		CatalogSnapshot:  p.Snapshot,
		DurationMS:       time.Since(start).Milliseconds(),
	}
	for _, n := range p.Nodes {
		r.Plan = append(r.Plan, PlanEntry{
			Ref:      n.Ref().String(),
			Instance: n.Instance,
			Target:   n.Target,
		})
		r.CountsByCategory[n.Ref().Category.String()]++
	}
	return r
}

// systemMetadata is the shape of system-metadata.json written to the output
// tree root. Timestamps live only here so composed trees stay byte-comparable.
type systemMetadata struct {
	SystemName      string      `json:"system_name"`
	Org             string      `json:"org"`
	ComposedAt      string      `json:"composed_at"`
	ToolVersion     string      `json:"tool_version"`
	CatalogSnapshot string      `json:"catalog_snapshot"`
	Plan            []PlanEntry `json:"plan"`
}
