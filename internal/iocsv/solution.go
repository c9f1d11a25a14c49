package iocsv

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ViolationRef names a monitored/outage line pair recorded against time=1,
// per spec.md §6 ("violations ... space-separated list of monitored:outage
// pairs for time=1").
type ViolationRef struct {
	Monitored, Outage int
}

// SolutionRow is one CSV row of the per-run solution file.
type SolutionRow struct {
	Instance, Variation string
	Cost                float64
	IsOn                [][]float64 // [generator][time]
	Prod                [][]float64
	Reserve             [][]float64
	Inj                 [][]float64 // [bus][time]
	Violations          []ViolationRef
}

// WriteSolution appends one row per element of rows to path, writing a
// fresh header if the file does not yet exist.
func WriteSolution(path string, rows []SolutionRow) error {
	_, statErr := os.Stat(path)
	needsHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("iocsv: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if needsHeader {
		if err := w.Write(solutionHeader(rows)); err != nil {
			return err
		}
	}

	for _, row := range rows {
		record := []string{row.Instance, row.Variation, formatFloat(row.Cost)}
		record = append(record, flattenMatrix(row.IsOn)...)
		record = append(record, flattenMatrix(row.Prod)...)
		record = append(record, flattenMatrix(row.Reserve)...)
		record = append(record, flattenMatrix(row.Inj)...)
		record = append(record, formatViolations(row.Violations))
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func solutionHeader(rows []SolutionRow) []string {
	g, t := 0, 0
	if len(rows) > 0 {
		g = len(rows[0].IsOn)
		if g > 0 {
			t = len(rows[0].IsOn[0])
		}
	}
	b := 0
	if len(rows) > 0 {
		b = len(rows[0].Inj)
	}

	header := []string{"instance", "variation", "cost"}
	for _, prefix := range []string{"is_on", "prod", "reserve"} {
		for gi := 0; gi < g; gi++ {
			for ti := 0; ti < t; ti++ {
				header = append(header, fmt.Sprintf("%s[%d:%d]", prefix, gi+1, ti+1))
			}
		}
	}
	for bi := 0; bi < b; bi++ {
		for ti := 0; ti < t; ti++ {
			header = append(header, fmt.Sprintf("inj[%d:%d]", bi+1, ti+1))
		}
	}
	header = append(header, "violations")
	return header
}

func flattenMatrix(m [][]float64) []string {
	var out []string
	for _, row := range m {
		for _, v := range row {
			out = append(out, formatFloat(v))
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatViolations(vs []ViolationRef) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, fmt.Sprintf("%d:%d", v.Monitored, v.Outage))
	}
	return strings.Join(parts, " ")
}

// ReadSolutions parses a solution CSV written by WriteSolution back into
// rows, given the generator count g, bus count b, and horizon t needed to
// de-flatten the fixed-width columns.
func ReadSolutions(path string, g, b, t int) ([]SolutionRow, error) {
	rows, err := readCSVRows(path)
	if err != nil {
		return nil, fmt.Errorf("iocsv: %w", err)
	}

	blockWidth := g * t
	out := make([]SolutionRow, 0, len(rows))
	for _, rec := range rows {
		cost, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("iocsv: cost: %w", err)
		}

		col := 3
		isOn, col, err := unflatten(rec, col, g, t)
		if err != nil {
			return nil, err
		}
		prod, col, err := unflatten(rec, col, g, t)
		if err != nil {
			return nil, err
		}
		reserve, col, err := unflatten(rec, col, g, t)
		if err != nil {
			return nil, err
		}
		inj, col, err := unflatten(rec, col, b, t)
		if err != nil {
			return nil, err
		}
		_ = blockWidth

		var violations []ViolationRef
		if col < len(rec) && rec[col] != "" {
			for _, tok := range strings.Fields(rec[col]) {
				parts := strings.SplitN(tok, ":", 2)
				if len(parts) != 2 {
					return nil, fmt.Errorf("iocsv: malformed violation token %q", tok)
				}
				mon, err := strconv.Atoi(parts[0])
				if err != nil {
					return nil, err
				}
				out2, err := strconv.Atoi(parts[1])
				if err != nil {
					return nil, err
				}
				violations = append(violations, ViolationRef{Monitored: mon, Outage: out2})
			}
		}

		out = append(out, SolutionRow{
			Instance:   rec[0],
			Variation:  rec[1],
			Cost:       cost,
			IsOn:       isOn,
			Prod:       prod,
			Reserve:    reserve,
			Inj:        inj,
			Violations: violations,
		})
	}
	return out, nil
}

func unflatten(rec []string, col, rowsN, t int) ([][]float64, int, error) {
	m := make([][]float64, rowsN)
	for i := 0; i < rowsN; i++ {
		m[i] = make([]float64, t)
		for j := 0; j < t; j++ {
			v, err := strconv.ParseFloat(rec[col], 64)
			if err != nil {
				return nil, col, fmt.Errorf("iocsv: column %d: %w", col, err)
			}
			m[i][j] = v
			col++
		}
	}
	return m, col, nil
}
