package ffbuild

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// planTable shows the resolved build order.
func planTable(order []Library) string {
	rows := make([][]string, 0, len(order))
	for i, lib := range order {
		version := lib.Version
		if lib.FromGit() {
			version = lib.Branch + " (git)"
		}
		rows = append(rows, []string{
			fmt.Sprint(i + 1), lib.Name, version, string(lib.Kind), strings.Join(lib.Depends, ", "),
		})
	}
	return renderTable([]string{"#", "Library", "Version", "Build", "After"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft})
}

// Report accumulates per-build outcomes for the end-of-run summary.
type Report struct {
	Results   []BuildResult
	Artifacts []Artifact
	started   time.Time
}

func NewReport() *Report {
	return &Report{started: time.Now()}
}

func (r *Report) Add(res BuildResult) {
	r.Results = append(r.Results, res)
}

// Counts returns how many builds ran and how many were skipped.
func (r *Report) Counts() (built, skipped int) {
	for _, res := range r.Results {
		if res.Status == StatusSkipped {
			skipped++
		} else {
			built++
		}
	}
	return built, skipped
}

// Summary renders the build table and the merged artifacts.
func (r *Report) Summary() string {
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		took := "-"
		if res.Status == StatusBuilt {
			took = res.Duration.Round(time.Second).String()
		}
		rows = append(rows, []string{res.Library, res.Arch, string(res.Status), took})
	}
	var b strings.Builder
	b.WriteString(renderTable([]string{"Library", "Arch", "Status", "Time"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
	b.WriteString("\n")

	if len(r.Artifacts) > 0 {
		arows := make([][]string, 0, len(r.Artifacts))
		for _, a := range r.Artifacts {
			size := "?"
			if fi, err := os.Stat(a.Path); err == nil {
				size = humanize.Bytes(uint64(fi.Size()))
			}
			arows = append(arows, []string{a.Path, strings.Join(a.Archs, " "), size})
		}
		b.WriteString(renderTable([]string{"Binary", "Architectures", "Size"}, arows,
			[]columnAlignment{alignLeft, alignLeft, alignRight}))
		b.WriteString("\n")
	}

	built, skipped := r.Counts()
	fmt.Fprintf(&b, "%d built, %d up to date in %s\n", built, skipped, time.Since(r.started).Round(time.Second))
	return b.String()
}
