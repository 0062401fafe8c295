// Package filter implements the seven operation drivers (backup, restore,
// diff, test, merge, isolate, repair) that walk either a live filesystem
// or a catalogue and apply selection masks, the overwriting-policy
// evaluator, and the byte-stream stack to do the actual work (spec §4.3).
package filter

import (
	"path"
	"regexp"
	"strings"

	"github.com/dargo-project/dargo/internal/direrr"
)

// maskRule is one compiled glob pattern plus whether a match includes or
// excludes the path (later rules override earlier ones, last-match-wins,
// the same precedence rclone's own filter rules use).
type maskRule struct {
	re      *regexp.Regexp
	include bool
}

// Mask is a compiled, ordered set of include/exclude glob rules. The
// glob-to-regexp translation mirrors the shape of rclone's filter engine
// (`*` within a path segment, `**` across segments, `?` for one rune)
// rather than reimplementing path/filepath.Match, which does not support
// `**`.
type Mask struct {
	rules          []maskRule
	defaultInclude bool
}

// NewMask compiles patterns into a Mask. A leading "-" marks an exclude
// rule, a leading "+" (or no prefix) an include rule; defaultInclude is
// the verdict when no rule matches.
func NewMask(patterns []string, defaultInclude bool) (*Mask, error) {
	m := &Mask{defaultInclude: defaultInclude}
	for _, raw := range patterns {
		include := true
		pat := raw
		switch {
		case strings.HasPrefix(raw, "-"):
			include, pat = false, raw[1:]
		case strings.HasPrefix(raw, "+"):
			include, pat = true, raw[1:]
		}
		re, err := globToRegexp(strings.TrimSpace(pat))
		if err != nil {
			return nil, direrr.New(direrr.Range, "filter.NewMask", err)
		}
		m.rules = append(m.rules, maskRule{re: re, include: include})
	}
	return m, nil
}

// Match reports whether p is selected, applying rules in order and
// keeping the verdict of the last one that matches.
func (m *Mask) Match(p string) bool {
	if m == nil {
		return true // a nil mask selects everything
	}
	p = path.Clean("/" + p)
	verdict := m.defaultInclude
	for _, r := range m.rules {
		if r.re.MatchString(p) {
			verdict = r.include
		}
	}
	return verdict
}

// globToRegexp translates a shell-glob-like pattern into a regular
// expression anchored at the end of the path: a pattern starting with "/"
// is also anchored at the root, any other pattern may match the trailing
// segments of the path. `**/` matches zero or more leading directories,
// `**` matches across path separators, `*` matches within one segment,
// `?` matches one rune, everything else is escaped literally.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	if strings.HasPrefix(glob, "/") {
		b.WriteString("^")
	} else {
		b.WriteString("(^|/)")
	}
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+2 < len(runes) && runes[i+1] == '*' && runes[i+2] == '/' {
				b.WriteString("(.*/)?")
				i += 2
			} else if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// SelectionMask is applied to the filename component only, and is
// ignored for directories (spec §4.3: "selection mask (applied to
// filename only, ignored for directories)").
type SelectionMask struct{ *Mask }

// Selects reports whether name passes the selection mask; directories
// are always selected by the selection mask itself (the subtree mask is
// what may exclude them).
func (s SelectionMask) Selects(name string, isDir bool) bool {
	if isDir || s.Mask == nil {
		return true
	}
	return s.Match(name)
}

// SubtreeMask is applied to the entry's full path, directories included
// (spec §4.3).
type SubtreeMask struct{ *Mask }

func (s SubtreeMask) Selects(fullPath string) bool {
	if s.Mask == nil {
		return true
	}
	return s.Match(fullPath)
}

// EAMask restricts which EA names are considered (spec §4.3).
type EAMask struct{ *Mask }

func (e EAMask) Selects(eaKey string) bool {
	if e.Mask == nil {
		return true
	}
	return e.Match(eaKey)
}
