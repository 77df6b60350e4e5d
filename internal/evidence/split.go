package evidence

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// span is a half-open byte range into a source text.
type span struct {
	start, end int
}

func (s span) text(src string) string { return src[s.start:s.end] }

var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

// paragraphs splits src on blank lines. Every span is trimmed of surrounding
// whitespace and non-empty.
func paragraphs(src string) []span {
	var out []span
	start := 0
	for _, loc := range blankLine.FindAllStringIndex(src, -1) {
		if s, ok := trim(src, start, loc[0]); ok {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s, ok := trim(src, start, len(src)); ok {
		out = append(out, s)
	}
	return out
}

// sentences splits the range within into sentences. A sentence ends at '.',
// '!' or '?' followed by whitespace and a character that is not lower case.
func sentences(src string, within span) []span {
	var out []span
	start := within.start
	for i := within.start; i < within.end; {
		r, size := utf8.DecodeRuneInString(src[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if !boundary(src[i:within.end]) {
			continue
		}
		if s, ok := trim(src, start, i); ok {
			out = append(out, s)
		}
		start = i
	}
	if s, ok := trim(src, start, within.end); ok {
		out = append(out, s)
	}
	return out
}

func boundary(rest string) bool {
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	if !unicode.IsSpace(r) {
		return false
	}
	next := strings.TrimLeftFunc(rest, unicode.IsSpace)
	if next == "" {
		return true
	}
	r, _ = utf8.DecodeRuneInString(next)
	return !unicode.IsLower(r)
}

func trim(src string, start, end int) (span, bool) {
	for start < end {
		r, size := utf8.DecodeRuneInString(src[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(src[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return span{start, end}, end > start
}

// windows groups consecutive paragraphs, size at a time, into spans that run
// from the first paragraph's start to the last paragraph's end.
func windows(paras []span, size int) [][]span {
	if size <= 0 {
		size = 1
	}
	var out [][]span
	for i := 0; i < len(paras); i += size {
		j := min(i+size, len(paras))
		out = append(out, paras[i:j])
	}
	return out
}

func cover(group []span) span {
	return span{group[0].start, group[len(group)-1].end}
}

// overlap scores how many distinct words of quote appear in candidate.
func overlap(quote, candidate string) int {
	words := func(s string) map[string]struct{} {
		m := map[string]struct{}{}
		for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
		}) {
			m[w] = struct{}{}
		}
		return m
	}
	have := words(candidate)
	n := 0
	for w := range words(quote) {
		if _, ok := have[w]; ok {
			n++
		}
	}
	return n
}
