package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Manifest columns. Header names are matched case-insensitively.
const (
	ColumnPaperID = "paper_id"
	ColumnRNAID   = "rna_id"
	ColumnArticle = "article"
)

var ErrManifest = errors.New("invalid manifest")

// Job is one (paper, RNA) pair to curate.
type Job struct {
	PaperID string
	RNAID   string
	// Article is the path of the pre-parsed article JSON.
	Article string
}

// LoadManifest reads a CSV file with paper_id, rna_id and article columns.
// Relative article paths are resolved against the manifest's directory.
func LoadManifest(path string) ([]Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s is empty (no header row)", ErrManifest, path)
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}
	cols := map[string]int{}
	for _, want := range []string{ColumnPaperID, ColumnRNAID, ColumnArticle} {
		i := slices.Index(headers, want)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s has no %q column", ErrManifest, path, want)
		}
		cols[want] = i
	}

	base := filepath.Dir(path)
	jobs := make([]Job, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) != len(headers) {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrManifest, i+2, len(record), len(headers))
		}
		job := Job{
			PaperID: strings.TrimSpace(record[cols[ColumnPaperID]]),
			RNAID:   strings.TrimSpace(record[cols[ColumnRNAID]]),
			Article: strings.TrimSpace(record[cols[ColumnArticle]]),
		}
		if job.PaperID == "" || job.RNAID == "" || job.Article == "" {
			return nil, fmt.Errorf("%w: row %d has an empty field", ErrManifest, i+2)
		}
		if !filepath.IsAbs(job.Article) {
			job.Article = filepath.Join(base, job.Article)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Range returns jobs in [start, end] (1-based, inclusive), clamped to the
// available rows.
func Range(jobs []Job, start, end int) ([]Job, error) {
	if start < 1 {
		return nil, fmt.Errorf("range start must be >= 1, got %d", start)
	}
	if end < start {
		return nil, fmt.Errorf("range end (%d) must be >= start (%d)", end, start)
	}
	if start > len(jobs) {
		return []Job{}, nil
	}
	return jobs[start-1 : min(end, len(jobs))], nil
}
