package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mirna-curator/curator/internal/curation"
)

// JSONL appends one JSON object per line. Existing lines are indexed on open
// so [JSONL.Has] can drive resumption.
type JSONL struct {
	mu   sync.Mutex
	path string
	f    *os.File
	seen map[pair]bool
}

func OpenJSONL(path string) (*JSONL, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating results directory: %w", err)
		}
	}

	seen, err := indexJSONL(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening results: %w", err)
	}
	return &JSONL{path: path, f: f, seen: seen}, nil
}

func indexJSONL(path string) (map[pair]bool, error) {
	seen := map[pair]bool{}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return seen, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var key struct {
			PaperID string `json:"paper_id"`
			RNAID   string `json:"rna_id"`
		}
		if json.Unmarshal(scanner.Bytes(), &key) != nil || key.PaperID == "" {
			continue
		}
		seen[pair{key.PaperID, key.RNAID}] = true
	}
	return seen, scanner.Err()
}

func (s *JSONL) Write(_ context.Context, res *curation.Result) error {
	data, err := json.Marshal(Record(res))
	if err != nil {
		return fmt.Errorf("encoding result for %s/%s: %w", res.PaperID, res.RNAID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	s.seen[pair{res.PaperID, res.RNAID}] = true
	return nil
}

func (s *JSONL) Has(_ context.Context, paperID, rnaID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[pair{paperID, rnaID}], nil
}

// Path returns the results file.
func (s *JSONL) Path() string { return s.path }

func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
