package iocsv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleRows() []SolutionRow {
	return []SolutionRow{
		{
			Instance:  "case1",
			Variation: "base",
			Cost:      1234.5,
			IsOn:      [][]float64{{1, 1}, {0, 1}},
			Prod:      [][]float64{{50, 60}, {0, 20}},
			Reserve:   [][]float64{{5, 5}, {0, 2}},
			Inj:       [][]float64{{10, -10}},
			Violations: []ViolationRef{
				{Monitored: 3, Outage: 7},
				{Monitored: 1, Outage: 2},
			},
		},
		{
			Instance:  "case1",
			Variation: "careful",
			Cost:      1300.0,
			IsOn:      [][]float64{{1, 1}, {1, 1}},
			Prod:      [][]float64{{55, 60}, {10, 20}},
			Reserve:   [][]float64{{0, 0}, {0, 0}},
			Inj:       [][]float64{{0, 0}},
		},
	}
}

func TestWriteReadSolutionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solutions.csv")
	rows := sampleRows()

	require.NoError(t, WriteSolution(path, rows))

	got, err := ReadSolutions(path, 2, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "case1", got[0].Instance)
	require.Equal(t, "base", got[0].Variation)
	require.InDelta(t, 1234.5, got[0].Cost, 1e-9)
	require.Equal(t, rows[0].IsOn, got[0].IsOn)
	require.Equal(t, rows[0].Prod, got[0].Prod)
	require.Equal(t, rows[0].Reserve, got[0].Reserve)
	require.Equal(t, rows[0].Inj, got[0].Inj)
	require.Equal(t, rows[0].Violations, got[0].Violations)

	require.Empty(t, got[1].Violations)
}

func TestWriteSolutionAppendsWithoutDuplicatingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solutions.csv")
	rows := sampleRows()

	require.NoError(t, WriteSolution(path, rows[:1]))
	require.NoError(t, WriteSolution(path, rows[1:]))

	got, err := ReadSolutions(path, 2, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// Exactly one header line plus two data lines.
	require.Equal(t, 3, countLines(string(raw)))
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestFormatViolationsEmpty(t *testing.T) {
	require.Equal(t, "", formatViolations(nil))
}
