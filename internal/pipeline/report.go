package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/extract-runner/internal/files"
	"github.com/sells-group/extract-runner/internal/monitoring"
)

// Phase names recorded in a Report, in execution order.
const (
	PhaseExtract   = "extract"
	PhaseDiscover  = "discover"
	PhaseStabilize = "stabilize"
	PhaseReshape   = "reshape"
	PhaseUpload    = "upload"
	PhaseEnrich    = "enrich"
	PhasePost      = "post"
	PhaseArchive   = "archive"
)

// PhaseStatus is the terminal state of a phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult records one phase of a cycle.
type PhaseResult struct {
	Name     string        `json:"name"`
	Status   PhaseStatus   `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Report describes one pipeline cycle.
type Report struct {
	RunID           string                  `json:"run_id"`
	StartedAt       time.Time               `json:"started_at"`
	Duration        time.Duration           `json:"duration"`
	Outcome         monitoring.CycleOutcome `json:"outcome"`
	ExitCode        int                     `json:"exit_code"`
	File            string                  `json:"file,omitempty"`
	FileTimestamp   time.Time               `json:"file_timestamp,omitzero"`
	TimestampSource files.TimestampSource   `json:"timestamp_source,omitempty"`
	Stability       string                  `json:"stability,omitempty"`
	Rows            int                     `json:"rows"`
	ArchivedTo      string                  `json:"archived_to,omitempty"`
	Phases          []PhaseResult           `json:"phases"`
	Error           string                  `json:"error,omitempty"`
}

// Phase returns the recorded result for name, if the phase ran.
func (r *Report) Phase(name string) (PhaseResult, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseResult{}, false
}

// FormatReport renders a short human-readable cycle summary.
func FormatReport(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s: %s (%s)\n", r.RunID, r.Outcome, r.Duration.Round(time.Millisecond))
	if r.File != "" {
		fmt.Fprintf(&b, "File: %s [%s %s]\n", r.File, r.TimestampSource, r.FileTimestamp.UTC().Format(time.RFC3339))
	}
	if r.Stability != "" {
		fmt.Fprintf(&b, "Stability: %s\n", r.Stability)
	}
	fmt.Fprintf(&b, "Rows: %d\n", r.Rows)
	if r.ArchivedTo != "" {
		fmt.Fprintf(&b, "Archived: %s\n", r.ArchivedTo)
	}

	b.WriteString("Phases:\n")
	for _, p := range r.Phases {
		fmt.Fprintf(&b, "- %s: %s (%dms)\n", p.Name, p.Status, p.Duration.Milliseconds())
		if p.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", p.Error)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	return b.String()
}
