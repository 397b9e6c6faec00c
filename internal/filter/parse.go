package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadFile reads rules from a filter file and appends them to the chain.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()

	if err := c.Parse(f); err != nil {
		return fmt.Errorf("filter file %s: %w", path, err)
	}
	return nil
}

// Parse reads rules, one per line:
//
//	- pattern   exclude
//	+ pattern   include
//	pattern     exclude
//	# comment   ignored
func (c *Chain) Parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := c.addLine(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	return scanner.Err()
}

func (c *Chain) addLine(line string) error {
	if rest, ok := strings.CutPrefix(line, "+ "); ok {
		return c.AddInclude(strings.TrimSpace(rest))
	}
	if rest, ok := strings.CutPrefix(line, "- "); ok {
		return c.AddExclude(strings.TrimSpace(rest))
	}
	return c.AddExclude(line)
}
