// Package filter decides which directories the tree-wide hard-link walk may
// descend into. Rules use rsync-style glob patterns and are evaluated in
// order; the first matching rule wins.
package filter

// Rule is a single include or exclude rule.
type Rule struct {
	Pattern *compiledPattern
	Include bool
}

// Chain holds an ordered list of rules. A nil *Chain matches everything.
type Chain struct {
	rules []Rule
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// FromPatterns builds a chain of exclude rules. Patterns prefixed with "+ "
// become include rules, mirroring the filter file syntax.
func FromPatterns(patterns []string) (*Chain, error) {
	c := NewChain()
	if err := c.Append(patterns...); err != nil {
		return nil, err
	}
	return c, nil
}

// Append adds rules in filter file syntax after the existing ones.
func (c *Chain) Append(patterns ...string) error {
	for _, p := range patterns {
		if err := c.addLine(p); err != nil {
			return err
		}
	}
	return nil
}

// AddExclude adds an exclude rule for the given pattern.
func (c *Chain) AddExclude(pattern string) error {
	return c.add(pattern, false)
}

// AddInclude adds an include rule for the given pattern.
func (c *Chain) AddInclude(pattern string) error {
	return c.add(pattern, true)
}

func (c *Chain) add(pattern string, include bool) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: include})
	return nil
}

// Len returns the number of rules.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}

// Empty reports whether the chain has no rules.
func (c *Chain) Empty() bool {
	return c.Len() == 0
}

// Match returns true if relPath should be scanned. relPath is relative to the
// sandbox root with forward slashes.
func (c *Chain) Match(relPath string, isDir bool) bool {
	if c == nil {
		return true
	}
	for _, rule := range c.rules {
		if rule.Pattern.match(relPath, isDir) {
			return rule.Include
		}
	}
	return true
}

// Patterns returns the original rule strings in filter file syntax.
func (c *Chain) Patterns() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		prefix := "- "
		if r.Include {
			prefix = "+ "
		}
		out = append(out, prefix+r.Pattern.original)
	}
	return out
}
