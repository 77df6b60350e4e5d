// Package sink persists curation results and run transcripts.
package sink

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mirna-curator/curator/internal/curation"
)

// Sink stores one record per (paper, RNA) pair.
type Sink interface {
	Write(ctx context.Context, res *curation.Result) error

	// Has reports whether a record for the pair already exists.
	Has(ctx context.Context, paperID, rnaID string) (bool, error)

	// Path is the file the sink writes to.
	Path() string

	Close() error
}

// Open picks the sink for path: SQLite for .db and .sqlite files, JSON lines otherwise.
func Open(path string) (Sink, error) {
	if IsSQLite(path) {
		return OpenSQLite(path)
	}
	return OpenJSONL(path)
}

// IsSQLite reports whether path names a SQLite results file.
func IsSQLite(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite":
		return true
	}
	return false
}

// Record flattens res into a single columnar row keyed by column name.
func Record(res *curation.Result) map[string]any {
	row := res.Row()
	row["paper_id"] = res.PaperID
	row["rna_id"] = res.RNAID
	row["terminal_node"] = res.TerminalNode
	row["input_tokens"] = res.Usage.InputTokens
	row["output_tokens"] = res.Usage.OutputTokens
	return row
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// RunName is the file stem for a run's artifacts.
func RunName(paperID, rnaID string) string {
	return unsafeChars.ReplaceAllString(paperID, "_") + "_" + unsafeChars.ReplaceAllString(rnaID, "_")
}

type pair struct{ paper, rna string }
