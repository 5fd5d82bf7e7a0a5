package reconcile

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"gopkg.in/yaml.v3"
)

// Report summarizes a run.
type Report struct {
	RunID       string                 `yaml:"run_id" json:"run_id"`
	Input       string                 `yaml:"input" json:"input"`
	Status      string                 `yaml:"status" json:"status"`
	StartedAt   time.Time              `yaml:"started_at" json:"started_at"`
	FinishedAt  time.Time              `yaml:"finished_at" json:"finished_at"`
	Duration    time.Duration          `yaml:"duration" json:"duration"`
	Lines       int                    `yaml:"lines" json:"lines"`
	ParseErrors int                    `yaml:"parse_errors" json:"parse_errors"`
	Discarded   int                    `yaml:"discarded" json:"discarded"`
	Samples     []gazetteer.ParseError `yaml:"parse_error_samples,omitempty" json:"parse_error_samples,omitempty"`
	Levels      []*LevelReport         `yaml:"levels" json:"levels"`
	Error       string                 `yaml:"error,omitempty" json:"error,omitempty"`
}

// LevelReport holds the counters of one level.
type LevelReport struct {
	Level         gazetteer.Level `yaml:"level" json:"level"`
	Skipped       bool            `yaml:"skipped,omitempty" json:"skipped,omitempty"`
	Records       int             `yaml:"records" json:"records"`
	Matched       int             `yaml:"matched" json:"matched"`
	Unmatched     int             `yaml:"unmatched" json:"unmatched"`
	Fallback      int             `yaml:"fallback" json:"fallback"`
	ParentMissing int             `yaml:"parent_missing" json:"parent_missing"`
	Conflicts     int             `yaml:"conflicts" json:"conflicts"`
	ParseErrors   int             `yaml:"parse_errors" json:"parse_errors"`
	PersistErrors int             `yaml:"persist_errors" json:"persist_errors"`
	Candidates    int             `yaml:"candidates" json:"candidates"`
	Duration      time.Duration   `yaml:"duration" json:"duration"`
}

func newReport(runID, input string, started time.Time) *Report {
	r := &Report{RunID: runID, Input: input, StartedAt: started}
	for _, l := range gazetteer.Levels {
		r.Levels = append(r.Levels, &LevelReport{Level: l})
	}
	return r
}

// Level returns the counters of l, or nil.
func (r *Report) Level(l gazetteer.Level) *LevelReport {
	for _, lr := range r.Levels {
		if lr.Level == l {
			return lr
		}
	}
	return nil
}

// Marshal encodes the report as YAML.
func (r *Report) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// WriteFile writes the YAML report to path.
func (r *Report) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ParseReport decodes a YAML report.
func ParseReport(data []byte) (*Report, error) {
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &r, nil
}

// Log writes one summary line per level.
func (r *Report) Log(logger *slog.Logger) {
	for _, lr := range r.Levels {
		logger.Info("level_summary",
			"run_id", r.RunID,
			"level", lr.Level,
			"skipped", lr.Skipped,
			"records", lr.Records,
			"matched", lr.Matched,
			"unmatched", lr.Unmatched,
			"fallback", lr.Fallback,
			"parent_missing", lr.ParentMissing,
			"conflicts", lr.Conflicts,
			"parse_errors", lr.ParseErrors,
			"persist_errors", lr.PersistErrors,
		)
	}
	logger.Info("run_summary",
		"run_id", r.RunID,
		"status", r.Status,
		"lines", r.Lines,
		"parse_errors", r.ParseErrors,
		"discarded", r.Discarded,
		"duration", r.Duration,
	)
}
