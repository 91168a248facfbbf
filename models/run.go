package models

import "time"

// UnitError records a work unit that failed without aborting the run.
type UnitError struct {
	Symbol string
	Err    error
}

// RunReport collects everything one pipeline run produced. It is handed
// to the report writers and the store as a unit.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Flags      []QualityFlag
	Results    []ReconciliationResult
	Gaps       []CoverageGap
	Summaries  []KPISummary
	UnitErrors []UnitError
}
