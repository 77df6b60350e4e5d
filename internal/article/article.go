// Package article holds pre-parsed article text as an ordered set of
// headed sections.
package article

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrInvalidArticle = errors.New("invalid article")

// Section is one headed block of article text.
type Section struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Article is an immutable, ordered collection of sections.
type Article struct {
	ID       string
	sections []Section
	index    map[string]int
}

type document struct {
	ID       string    `json:"id"`
	Sections []Section `json:"sections"`
}

// New builds an article from sections in paper order. Titles must be unique
// and non-empty.
func New(id string, sections ...Section) (*Article, error) {
	a := &Article{
		ID:       id,
		sections: make([]Section, 0, len(sections)),
		index:    make(map[string]int, len(sections)),
	}
	for _, s := range sections {
		if strings.TrimSpace(s.Title) == "" {
			return nil, fmt.Errorf("%w: %s: section with empty title", ErrInvalidArticle, id)
		}
		if _, dup := a.index[s.Title]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate section %q", ErrInvalidArticle, id, s.Title)
		}
		a.index[s.Title] = len(a.sections)
		a.sections = append(a.sections, s)
	}
	return a, nil
}

// MustNew is like New but panics on error. It is meant for tests and fixtures.
func MustNew(id string, sections ...Section) *Article {
	a, err := New(id, sections...)
	if err != nil {
		panic(err)
	}
	return a
}

// Load reads an article document from path.
func Load(path string) (*Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading article %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes {"id": "...", "sections": [{"title": "...", "text": "..."}]}.
func Parse(data []byte) (*Article, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArticle, err)
	}
	return New(doc.ID, doc.Sections...)
}

// Sections returns section titles in paper order.
func (a *Article) Sections() []string {
	names := make([]string, len(a.sections))
	for i, s := range a.sections {
		names[i] = s.Title
	}
	return names
}

// Section returns the text under title.
func (a *Article) Section(title string) (string, bool) {
	i, ok := a.index[title]
	if !ok {
		return "", false
	}
	return a.sections[i].Text, true
}

// Len is the number of sections.
func (a *Article) Len() int { return len(a.sections) }
