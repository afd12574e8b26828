// Package report writes estimation results as CSV, JSON or a text table
// and summarises them.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"gonum.org/v1/gonum/stat"

	"leafarea/internal/models"
)

// Row is one line of tabular output
type Row struct {
	Filename  string  `json:"filename"`
	Area      float64 `json:"area"`
	Component int     `json:"component"`
	Pixels    int     `json:"pixels"`
	Error     string  `json:"error,omitempty"`
}

// Rows flattens results into rows in result order. A failed result becomes
// a single row carrying its error.
func Rows(results []*models.Result) []Row {
	var rows []Row
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Failed() {
			rows = append(rows, Row{Filename: r.Filename, Error: r.Err.Error()})
			continue
		}
		for _, m := range r.Measurements {
			rows = append(rows, Row{
				Filename:  m.Filename,
				Area:      m.Area,
				Component: m.Component,
				Pixels:    m.Pixels,
			})
		}
	}
	return rows
}

// csvHeader lists the CSV columns in order
var csvHeader = []string{"filename", "area", "component", "pixels", "error"}

// WriteCSV writes results to w with a header line
func WriteCSV(w io.Writer, results []*models.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}
	for _, row := range Rows(results) {
		record := []string{
			row.Filename,
			strconv.FormatFloat(row.Area, 'g', -1, 64),
			strconv.Itoa(row.Component),
			strconv.Itoa(row.Pixels),
			row.Error,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("error writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes results to w as an indented JSON array of rows
func WriteJSON(w io.Writer, results []*models.Result) error {
	rows := Rows(results)
	if rows == nil {
		rows = []Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}
	return nil
}

// WriteTable writes results to w as aligned columns for a terminal
func WriteTable(w io.Writer, results []*models.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILENAME\tCOMPONENT\tPIXELS\tAREA (cm²)")
	for _, row := range Rows(results) {
		if row.Error != "" {
			fmt.Fprintf(tw, "%s\t-\t-\terror: %s\n", row.Filename, row.Error)
			continue
		}
		component := strconv.Itoa(row.Component)
		if row.Component == 0 {
			component = "all"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f\n", row.Filename, component, row.Pixels, row.Area)
	}
	return tw.Flush()
}

// Summary aggregates a set of results
type Summary struct {
	// Images is the number of scans, failed ones included
	Images int

	// Failed is the number of scans that could not be measured
	Failed int

	// Rows is the number of measurements, one per leaf or one per combined scan
	Rows int

	// Total, Mean and StdDev describe the measured areas in cm²
	Total  float64
	Mean   float64
	StdDev float64
}

// Summarize computes the summary of results
func Summarize(results []*models.Result) Summary {
	var s Summary
	var areas []float64
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Images++
		if r.Failed() {
			s.Failed++
			continue
		}
		for _, m := range r.Measurements {
			areas = append(areas, m.Area)
			s.Total += m.Area
		}
	}

	s.Rows = len(areas)
	if len(areas) > 0 {
		s.Mean = stat.Mean(areas, nil)
	}
	if len(areas) > 1 {
		s.StdDev = stat.StdDev(areas, nil)
	}
	return s
}
