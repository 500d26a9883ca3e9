package deletion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TableCount is the number of rows deleted from one table, or that would
// be deleted in a dry run.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// NamespaceReport records the deletion of one account's namespace.
type NamespaceReport struct {
	AccountID     int64        `json:"account_id"`
	NamespaceID   int64        `json:"namespace_id"`
	Discriminator string       `json:"discriminator"`
	Tables        []TableCount `json:"tables"`
	Completed     bool         `json:"completed"`
	Error         string       `json:"error,omitempty"`
	Duration      Duration     `json:"duration"`
}

func (n *NamespaceReport) add(table string, rows int64) {
	n.Tables = append(n.Tables, TableCount{Table: table, Rows: rows})
}

// Rows returns the rows recorded for table.
func (n *NamespaceReport) Rows(table string) int64 {
	var total int64
	for _, tc := range n.Tables {
		if tc.Table == table {
			total += tc.Rows
		}
	}
	return total
}

// SkippedAccount is a deletion target that failed its precondition.
type SkippedAccount struct {
	AccountID int64  `json:"account_id"`
	Reason    string `json:"reason"`
}

// Report summarizes one delete-accounts run.
type Report struct {
	Version     int                `json:"version"`
	ID          string             `json:"id"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	DryRun      bool               `json:"dry_run"`
	Namespaces  []*NamespaceReport `json:"namespaces"`
	Skipped     []SkippedAccount   `json:"skipped,omitempty"`
}

// Duration marshals as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// NewReport starts a report at now.
func NewReport(description string, dryRun bool, now time.Time) *Report {
	return &Report{
		Version:   1,
		ID:        generateID(description, now),
		StartedAt: now,
		DryRun:    dryRun,
	}
}

// generateID creates a report ID from timestamp and description.
func generateID(description string, now time.Time) string {
	ts := now.Format("20060102-150405")
	sanitized := sanitizeForFilename(description)
	if sanitized == "" {
		sanitized = "run"
	}
	if len(sanitized) > 20 {
		sanitized = sanitized[:20]
	}
	return fmt.Sprintf("%s-%s", ts, sanitized)
}

// sanitizeForFilename removes characters unsafe for filenames.
func sanitizeForFilename(s string) string {
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' {
			result = append(result, c)
		} else if c == ' ' || c == '.' {
			result = append(result, '-')
		}
	}
	return string(result)
}

func (r *Report) namespace(acctID, nsID int64, discriminator string) *NamespaceReport {
	n := &NamespaceReport{AccountID: acctID, NamespaceID: nsID, Discriminator: discriminator}
	r.Namespaces = append(r.Namespaces, n)
	return n
}

func (r *Report) skip(acctID int64, reason string) {
	r.Skipped = append(r.Skipped, SkippedAccount{AccountID: acctID, Reason: reason})
}

func (r *Report) finish(now time.Time) {
	r.CompletedAt = &now
}

// Deleted is the number of namespaces deleted completely.
func (r *Report) Deleted() int {
	n := 0
	for _, ns := range r.Namespaces {
		if ns.Completed {
			n++
		}
	}
	return n
}

// Failed is the number of namespaces whose deletion was aborted.
func (r *Report) Failed() int {
	return len(r.Namespaces) - r.Deleted()
}

// Save writes the report as JSON into dir and returns its path.
func (r *Report) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, r.ID+".json")
	return path, os.WriteFile(path, data, 0600)
}

// LoadReport reads a report from a JSON file.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReports loads every report in dir, newest first. Unreadable files
// are skipped and a missing dir has no reports.
func ListReports(dir string) ([]*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var reports []*Report
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		r, err := LoadReport(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})
	return reports, nil
}

// FormatSummary returns a human-readable summary of the run.
func (r *Report) FormatSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deletion Run: %s\n", r.ID)
	if r.DryRun {
		b.WriteString("Mode: dry run\n")
	}
	fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	if r.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", r.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Namespaces: %d deleted, %d failed, %d skipped\n", r.Deleted(), r.Failed(), len(r.Skipped))

	for _, ns := range r.Namespaces {
		status := "ok"
		if !ns.Completed {
			status = "FAILED: " + ns.Error
		}
		fmt.Fprintf(&b, "\nAccount %d (namespace %d, %s): %s\n", ns.AccountID, ns.NamespaceID, ns.Discriminator, status)
		for _, tc := range ns.Tables {
			fmt.Fprintf(&b, "  %-24s %d\n", tc.Table, tc.Rows)
		}
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "\nSkipped account %d: %s\n", s.AccountID, s.Reason)
	}
	return b.String()
}
