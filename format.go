package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// statusf writes a progress note to stderr, silenced by -q.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize renders a byte count with a binary-scaled unit, one decimal
// place above 1 KB (e.g. "1.5 KB", "3.0 GB").
func formatSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}

	value := float64(bytes) / 1024
	unit := "KB"

	for _, next := range []string{"MB", "GB", "TB", "PB"} {
		if value < 1024 {
			break
		}

		value /= 1024
		unit = next
	}

	return fmt.Sprintf("%.1f %s", value, unit)
}

// formatTime renders a timestamp the way ls does: time of day within the
// current year, year otherwise.
func formatTime(t time.Time) string {
	if t.Year() != time.Now().Year() {
		return t.Format("Jan _2  2006")
	}

	return t.Format("Jan _2 15:04")
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(os.Stdout, string(out))

	return err
}

// printTable writes headers and rows as two-space-separated columns, each
// padded to its widest cell. Every row must match the header length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := columnWidths(headers, rows)

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func columnWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	return widths
}

func printRow(w io.Writer, cells []string, widths []int) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "  ")
		}

		fmt.Fprintf(w, "%-*s", widths[i], cell)
	}

	fmt.Fprintln(w)
}
