package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// compiledPattern is a glob compiled to a regular expression.
type compiledPattern struct {
	re       *regexp.Regexp
	original string
	anchored bool // matched against the whole relative path
	dirOnly  bool // trailing slash: directories only
}

// compilePattern compiles an rsync-style glob:
//
//	*     any run of characters except /
//	**    any run of characters including /
//	?     one character except /
//	[...] character class, [!...] negated
//	/x    anchored at the sandbox root
//	x/    directories only
//
// A pattern containing an inner slash is anchored as well.
func compilePattern(pattern string) (*compiledPattern, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("empty filter pattern")
	}
	cp := &compiledPattern{original: pattern}

	body := pattern
	if trimmed, ok := strings.CutSuffix(body, "/"); ok {
		cp.dirOnly = true
		body = trimmed
	}
	if trimmed, ok := strings.CutPrefix(body, "/"); ok {
		cp.anchored = true
		body = trimmed
	} else if strings.Contains(body, "/") {
		cp.anchored = true
	}

	expr := globToRegex(body)
	if cp.anchored {
		expr = "^" + expr + "$"
	} else {
		expr = "(^|/)" + expr + "$"
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile filter pattern %q: %w", pattern, err)
	}
	cp.re = re
	return cp, nil
}

func (cp *compiledPattern) match(relPath string, isDir bool) bool {
	if cp.dirOnly && !isDir {
		return false
	}
	return cp.re.MatchString(relPath)
}

// globToRegex translates glob syntax into regular expression syntax.
func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if !strings.HasPrefix(glob[i:], "**") {
				b.WriteString("[^/]*")
				continue
			}
			if strings.HasPrefix(glob[i:], "**/") {
				b.WriteString("(.*/)?")
				i += 2
			} else {
				b.WriteString(".*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := classEnd(glob, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : end]
			if rest, ok := strings.CutPrefix(class, "!"); ok {
				class = "^" + rest
			}
			b.WriteString("[" + class + "]")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

// classEnd returns the index of the ']' closing the class opened at start, or
// -1 if the class is unterminated. A ']' right after '[' or '[!' is literal.
func classEnd(glob string, start int) int {
	j := start + 1
	if j < len(glob) && glob[j] == '!' {
		j++
	}
	if j < len(glob) && glob[j] == ']' {
		j++
	}
	for ; j < len(glob); j++ {
		if glob[j] == ']' {
			return j
		}
	}
	return -1
}
