package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/mirna-curator/curator/internal/curation"
)

const (
	transcriptExt = ".txt"
	zstdExt       = ".zst"
)

// Transcripts writes the raw conversation of each run to its own file,
// named by paper and RNA.
type Transcripts struct {
	dir      string
	compress bool
}

func NewTranscripts(dir string, compress bool) *Transcripts {
	return &Transcripts{dir: dir, compress: compress}
}

// Write stores res.Trace and returns the file path.
func (t *Transcripts) Write(res *curation.Result) (string, error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating transcript directory: %w", err)
	}

	path := filepath.Join(t.dir, RunName(res.PaperID, res.RNAID)+transcriptExt)
	if t.compress {
		path += zstdExt
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating transcript: %w", err)
	}
	defer f.Close()

	var w io.WriteCloser = nopCloser{f}
	if t.compress {
		if w, err = zstd.NewWriter(f); err != nil {
			return "", err
		}
	}
	if _, err := io.WriteString(w, res.Trace); err != nil {
		w.Close()
		return "", fmt.Errorf("writing transcript: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("writing transcript: %w", err)
	}
	return path, f.Close()
}

// ReadTranscript reads a transcript, decompressing .zst files.
func ReadTranscript(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, zstdExt) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return "", err
		}
		defer dec.Close()
		r = dec
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading transcript %s: %w", path, err)
	}
	return string(data), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
