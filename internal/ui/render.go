package ui

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/bamsammich/warren/internal/indexer"
	"github.com/bamsammich/warren/internal/links"
)

// Printer renders link operation results for the terminal.
type Printer struct {
	w     io.Writer
	color bool
	json  bool
}

// NewPrinter creates a Printer. color enables lipgloss styling; asJSON
// switches every Print method to indented JSON.
func NewPrinter(w io.Writer, color, asJSON bool) *Printer {
	return &Printer{w: w, color: color, json: asJSON}
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// HardLinkSet prints the discovered links as a table followed by a scan
// summary.
func (p *Printer) HardLinkSet(set indexer.HardLinkSet) error {
	if p.json {
		return p.JSON(set)
	}

	fmt.Fprintf(p.w, "%s  inode %s  links %d\n",
		p.style(stylePath, set.Origin.RelPath), set.Inode, set.LinkCount)

	if len(set.Discovered) > 0 {
		table := newTable(p.w, "PATH", "SIZE", "MODIFIED")
		for _, d := range set.Discovered {
			table.Append([]string{
				d.RelPath,
				FormatBytes(d.Size),
				d.ModTime.Format("2006-01-02 15:04"),
			})
		}
		table.Render()
	}

	summary := scanSummary(set.Stats, set.Found(), set.Partial)
	if set.Partial {
		missing := set.LinkCount - uint64(set.Found()) - 1
		summary += fmt.Sprintf("  (%d not reachable)", missing)
		summary = p.style(stylePartial, summary)
	} else {
		summary = p.style(styleMuted, summary)
	}
	_, err := fmt.Fprintln(p.w, summary)
	return err
}

// SymlinkTarget prints where a symlink points and whether it is broken.
func (p *Printer) SymlinkTarget(t links.SymlinkTarget) error {
	if p.json {
		return p.JSON(t)
	}
	state := p.style(styleOK, "ok")
	if t.Broken {
		state = p.style(styleBroken, "broken")
	}
	_, err := fmt.Fprintf(p.w, "%s -> %s  [%s]\n",
		p.style(stylePath, t.Link), t.Target, state)
	return err
}

// LinkResult prints a created link.
func (p *Printer) LinkResult(r links.LinkResult) error {
	if p.json {
		return p.JSON(r)
	}
	_, err := fmt.Fprintf(p.w, "%s %s link %s -> %s\n",
		p.style(styleOK, "created"), r.Type, p.style(stylePath, r.Target), r.Source)
	return err
}

// UpdateResult prints a retargeted symlink.
func (p *Printer) UpdateResult(r links.UpdateResult) error {
	if p.json {
		return p.JSON(r)
	}
	_, err := fmt.Fprintf(p.w, "%s %s -> %s\n",
		p.style(styleOK, "retargeted"), p.style(stylePath, r.Link), r.NewTarget)
	return err
}

// Removed prints a deleted link name.
func (p *Printer) Removed(rel string) error {
	if p.json {
		return p.JSON(map[string]any{"success": true, "path": rel})
	}
	_, err := fmt.Fprintf(p.w, "%s %s\n", p.style(styleOK, "removed"), p.style(stylePath, rel))
	return err
}

// DeleteAllResult prints the removed and skipped links.
func (p *Printer) DeleteAllResult(r links.DeleteAllResult) error {
	if p.json {
		return p.JSON(r)
	}
	if len(r.Deleted)+len(r.Skipped) > 0 {
		table := newTable(p.w, "PATH", "RESULT")
		for _, path := range r.Deleted {
			table.Append([]string{path, "deleted"})
		}
		for _, path := range r.Skipped {
			table.Append([]string{path, "skipped"})
		}
		table.Render()
	}

	line := fmt.Sprintf("removed %d link(s), kept %s", r.DeletedCount(), r.Origin)
	if r.Partial {
		line = p.style(stylePartial, line+"; some links were not reachable and remain")
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

// Resolved prints a resolved sandbox path.
func (p *Printer) Resolved(rel, abs string) error {
	if p.json {
		return p.JSON(map[string]string{"path": rel, "absolutePath": abs})
	}
	_, err := fmt.Fprintln(p.w, abs)
	return err
}

// KeyValues prints an aligned two-column table without headers.
func (p *Printer) KeyValues(pairs [][2]string) {
	table := newTable(p.w)
	for _, kv := range pairs {
		table.Append([]string{kv[0], kv[1]})
	}
	table.Render()
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	if len(headers) > 0 {
		table.SetHeader(headers)
	}
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}
