// Package sentinel decides whether a request path targets repository metadata,
// environment files or editor backups that must never be served.
package sentinel

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Percent-decoding is repeated so "%252e" cannot smuggle a "." past the matcher.
// A path that still changes after this many rounds is rejected.
const maxDecodeRounds = 3

const regexPrefix = "re:"

var ErrMalformedPath = errors.New("malformed path encoding")

type Verdict struct {
	Blocked bool
	// Fully decoded, lowercased path
	Decoded string
	// Pattern that matched, empty when the path was let through or could not be decoded
	Pattern string
}

type matcher struct {
	source    string
	substring string
	re        *regexp.Regexp
}

func (m matcher) match(path string) bool {
	if m.re != nil {
		return m.re.MatchString(path)
	}
	return strings.Contains(path, m.substring)
}

// Sentinel is immutable once built and safe for concurrent use
type Sentinel struct {
	matchers []matcher
}

// Builds a Sentinel. Plain patterns match as case-insensitive substrings,
// patterns prefixed with "re:" as case-insensitive regular expressions.
func New(patterns []string) (*Sentinel, error) {
	if len(patterns) == 0 {
		return nil, errors.New("sentinel: at least one pattern is required")
	}

	s := &Sentinel{matchers: make([]matcher, 0, len(patterns))}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return nil, errors.New("sentinel: blank pattern")
		}

		if expr, ok := strings.CutPrefix(p, regexPrefix); ok {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("sentinel: pattern %q: %w", p, err)
			}
			s.matchers = append(s.matchers, matcher{source: p, re: re})
			continue
		}

		s.matchers = append(s.matchers, matcher{source: p, substring: strings.ToLower(p)})
	}

	return s, nil
}

// Returns the patterns in their configured order
func (s *Sentinel) Patterns() []string {
	out := make([]string, len(s.matchers))
	for i, m := range s.matchers {
		out[i] = m.source
	}
	return out
}

// Inspects a raw (still percent-encoded) request path. Every decoding stage is
// matched, not only the last one. A raw path with invalid escapes comes back
// blocked together with ErrMalformedPath.
func (s *Sentinel) Inspect(rawPath string) (Verdict, error) {
	current := rawPath
	for round := 0; ; round++ {
		lowered := strings.ToLower(current)
		if pattern, ok := s.firstMatch(lowered); ok {
			return Verdict{Blocked: true, Decoded: lowered, Pattern: pattern}, nil
		}

		if !strings.Contains(current, "%") {
			return Verdict{Decoded: lowered}, nil
		}

		var decoded string
		if round == 0 {
			var err error
			if decoded, err = url.PathUnescape(current); err != nil {
				return Verdict{Blocked: true, Decoded: lowered}, fmt.Errorf("%w: %v", ErrMalformedPath, err)
			}
		} else {
			// A literal "%" produced by an earlier round is data, not an escape
			decoded = unescapeValid(current)
		}
		if decoded == current {
			return Verdict{Decoded: lowered}, nil
		}
		if round == maxDecodeRounds {
			return Verdict{Blocked: true, Decoded: lowered}, fmt.Errorf("%w: more than %d encoding layers", ErrMalformedPath, maxDecodeRounds)
		}
		current = decoded
	}
}

func (s *Sentinel) firstMatch(path string) (string, bool) {
	for _, m := range s.matchers {
		if m.match(path) {
			return m.source, true
		}
	}
	return "", false
}

// Decodes well-formed %XX sequences and keeps everything else verbatim
func unescapeValid(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
