package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/adminupgrade/internal/precheck"
	"github.com/autopeer-io/adminupgrade/internal/upgrade"
)

const (
	outputTable = "table"
	outputJSON  = "json"

	maxColWidth = 80
)

// Printer renders command results as a table or as JSON.
type Printer struct {
	out    io.Writer
	format string
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer, format string) *Printer {
	return &Printer{out: out, format: format}
}

func (p *Printer) json(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) table(t *uitable.Table) error {
	_, err := fmt.Fprintln(p.out, t)
	return err
}

// Status prints the upgrade status.
func (p *Printer) Status(s *upgrade.Status) error {
	if p.format == outputJSON {
		return p.json(s)
	}

	t := uitable.New()
	t.AddRow("VERSION", "PHASE", "UPGRADING", "SUCCESS", "FAILED")
	t.AddRow(s.Version, s.Phase(), s.Upgrade.Upgrading, s.Upgrade.Success, s.Upgrade.Failed)
	return p.table(t)
}

// Prechecks prints the precheck report, one row per check.
func (p *Printer) Prechecks(r precheck.Report) error {
	if p.format == outputJSON {
		return p.json(r)
	}

	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)

	t := uitable.New()
	t.MaxColWidth = maxColWidth
	t.Wrap = true
	t.AddRow("CHECK", "PASSED", "DETAILS", "ERROR")
	for _, name := range names {
		res := r[name]
		details := ""
		if res.Details != nil {
			b, err := json.Marshal(res.Details)
			if err != nil {
				return err
			}
			details = string(b)
		}
		t.AddRow(name, res.Passed, details, res.Error)
	}
	return p.table(t)
}

// Launched prints the pid of the upgrade script.
func (p *Printer) Launched(pid int) error {
	if p.format == outputJSON {
		return p.json(map[string]int{"pid": pid})
	}

	t := uitable.New()
	t.AddRow("PID")
	t.AddRow(pid)
	return p.table(t)
}

// Change prints one phase change.
func (p *Printer) Change(c upgrade.PhaseChange) error {
	if p.format == outputJSON {
		return p.json(c)
	}

	t := uitable.New()
	t.AddRow(c.At.Format("2006-01-02T15:04:05Z07:00"), c.From, "->", c.To)
	return p.table(t)
}

// Message prints a plain confirmation.
func (p *Printer) Message(msg string) error {
	if p.format == outputJSON {
		return p.json(map[string]string{"result": msg})
	}
	_, err := fmt.Fprintln(p.out, msg)
	return err
}
