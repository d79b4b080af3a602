// Package parser extracts transclusion references from tree sources and
// rewrites tree metadata in place.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// CommentMarker starts a comment line in tree sources.
const CommentMarker = "%"

// MaxLineSize bounds a single source line.
const MaxLineSize = 4 * 1024 * 1024

var (
	transcludeRe = regexp.MustCompile(`\\transclude\{([^{}]*)\}`)
	titleRe      = regexp.MustCompile(`^(\s*)\\title\{.*\}\s*$`)
)

// Transclusions returns the identifiers named by every \transclude{...}
// directive in data, in order of appearance and without duplicates. Lines
// whose left-trimmed text starts with the comment marker are skipped.
//
// A line longer than MaxLineSize stops the scan; the identifiers found
// before it are returned together with the error.
func Transclusions(data []byte) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), CommentMarker) {
			continue
		}
		for _, m := range transcludeRe.FindAllStringSubmatch(line, -1) {
			id := strings.TrimSpace(m[1])
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("parser: scan transclusions: %w", err)
	}
	return out, nil
}

// SetTitle replaces the first uncommented \title{...} line of data with
// title, keeping its indentation. When no title line exists one is inserted
// at the top. The second result reports whether an existing line was replaced.
func SetTitle(data []byte, title string) ([]byte, bool) {
	escaped := escapeBraces(title)
	lines := strings.SplitAfter(string(data), "\n")
	for i, line := range lines {
		body := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(strings.TrimLeft(body, " \t"), CommentMarker) {
			continue
		}
		m := titleRe.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		lines[i] = m[1] + `\title{` + escaped + `}` + line[len(body):]
		return []byte(strings.Join(lines, "")), true
	}
	return append([]byte(`\title{`+escaped+"}\n"), data...), false
}

// escapeBraces keeps a title from closing the directive early.
func escapeBraces(s string) string {
	r := strings.NewReplacer(`{`, `\{`, `}`, `\}`)
	return r.Replace(s)
}
