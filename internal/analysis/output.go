package analysis

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/tphakala/clipscan/internal/clip"
	"github.com/tphakala/clipscan/internal/errors"
	"github.com/tphakala/clipscan/internal/inference"
	"github.com/tphakala/clipscan/internal/logger"
)

// Output formats.
const (
	FormatCSV   = "csv"
	FormatTable = "table"
)

// ResultWriter writes a results table in one output format.
type ResultWriter struct {
	Format       string
	Threshold    float32
	SingleTarget bool
}

// NewResultWriter returns a writer for the configured output.
func NewResultWriter(format string, threshold float64, singleTarget bool) (*ResultWriter, error) {
	switch format {
	case FormatCSV, FormatTable:
	default:
		return nil, errors.Newf("unsupported output format %q", format).
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}
	return &ResultWriter{Format: format, Threshold: float32(threshold), SingleTarget: singleTarget}, nil
}

// WriteFile writes table to path, or to stdout when path is empty.
func (rw *ResultWriter) WriteFile(path string, table *inference.ResultsTable) error {
	if path == "" {
		return rw.Write(os.Stdout, table)
	}
	file, err := os.Create(path) //nolint:gosec // G304: user supplied output path
	if err != nil {
		return errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	if err := rw.Write(file, table); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	GetLogger().Info("Output written", logger.String("path", path))
	return nil
}

// Write writes one line per clip in dataset index order. Scored clips list
// every class score and the detected classes; failed clips carry the failure
// kind and message instead.
func (rw *ResultWriter) Write(w io.Writer, table *inference.ResultsTable) error {
	header, lines := rw.lines(table)
	if rw.Format == FormatTable {
		return writeTable(w, header, lines)
	}
	return writeCSV(w, header, lines)
}

func (rw *ResultWriter) lines(table *inference.ResultsTable) (header []string, lines [][]string) {
	classes := table.Classes()
	detected := make(map[clip.Identity][]bool)
	for _, p := range table.Predictions(rw.Threshold, rw.SingleTarget) {
		detected[p.Identity] = p.Present
	}

	header = append([]string{"Recording", "Start (s)", "End (s)"}, classes...)
	header = append(header, "Detections", "Failure", "Error")

	for _, r := range table.Results() {
		line := make([]string, 0, len(header))
		line = append(line,
			r.Identity.Recording,
			strconv.FormatFloat(r.Identity.Start, 'f', 3, 64),
			strconv.FormatFloat(r.Identity.End, 'f', 3, 64))

		if r.Failure != nil {
			for range classes {
				line = append(line, "")
			}
			line = append(line, "", r.Failure.Kind.String(), strings.ReplaceAll(r.Failure.Message, "\n", " "))
			lines = append(lines, line)
			continue
		}

		var names []string
		present := detected[r.Identity]
		for i, s := range r.Scores {
			line = append(line, strconv.FormatFloat(float64(s), 'f', 4, 32))
			if i < len(present) && present[i] {
				names = append(names, classes[i])
			}
		}
		line = append(line, strings.Join(names, ";"), "", "")
		lines = append(lines, line)
	}
	return header, lines
}

func writeCSV(w io.Writer, header []string, lines [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}
	if err := cw.WriteAll(lines); err != nil {
		return fmt.Errorf("failed to write results to CSV: %w", err)
	}
	return nil
}

func writeTable(w io.Writer, header []string, lines [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(header, "\t")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(tw, strings.Join(line, "\t")); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	return tw.Flush()
}
