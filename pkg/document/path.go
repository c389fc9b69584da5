// Package document is the per-session résumé container. Tools read and
// mutate it exclusively through dotted-path operations; the store
// serializes all access for its session.
package document

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a parsed path: either an object key or a list
// index. Negative indices resolve from the end of the list.
type segment struct {
	key     string
	index   int
	isIndex bool
}

func (s segment) String() string {
	if s.isIndex {
		return fmt.Sprintf("[%d]", s.index)
	}
	return s.key
}

// parsePath parses the dotted-path grammar: segments separated by ".",
// with "[n]" suffixes denoting list indices, e.g. "education[0].gpa".
func parsePath(path string) ([]segment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segments []segment
	for _, token := range strings.Split(path, ".") {
		if token == "" {
			return nil, fmt.Errorf("path %q contains an empty segment", path)
		}

		key := token
		rest := ""
		if open := strings.IndexByte(token, '['); open >= 0 {
			key = token[:open]
			rest = token[open:]
		}
		if strings.ContainsAny(key, "]") {
			return nil, fmt.Errorf("path %q has unbalanced brackets in %q", path, token)
		}
		if key != "" {
			segments = append(segments, segment{key: key})
		} else if rest == "" || len(segments) == 0 {
			return nil, fmt.Errorf("path %q has a segment without a key: %q", path, token)
		}

		for rest != "" {
			if rest[0] != '[' {
				return nil, fmt.Errorf("path %q has trailing characters in %q", path, token)
			}
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return nil, fmt.Errorf("path %q has unbalanced brackets in %q", path, token)
			}
			idx, err := strconv.Atoi(rest[1:close])
			if err != nil {
				return nil, fmt.Errorf("path %q has a non-integer index in %q", path, token)
			}
			segments = append(segments, segment{index: idx, isIndex: true})
			rest = rest[close+1:]
		}
	}
	return segments, nil
}
