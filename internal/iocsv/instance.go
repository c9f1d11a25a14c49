// Package iocsv reads and writes the three-file CSV instance format and the
// per-run solution CSV described in spec.md §6. No library in the retrieval
// pack wraps CSV parsing (the closest candidates are full ORM/SQL layers),
// so this package uses the standard library's encoding/csv directly; see
// DESIGN.md for the justification.
package iocsv

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/scucgrid/scuc/internal/powermodel"
)

const demandColumns = 24

// ReadInstance loads buses.csv, lines.csv and generators.csv from dir and
// assembles a validated powermodel.UnitCommitmentInstance named name.
func ReadInstance(dir, name string) (*powermodel.UnitCommitmentInstance, error) {
	buses, err := readBuses(filepath.Join(dir, "buses.csv"))
	if err != nil {
		return nil, fmt.Errorf("iocsv: %w", err)
	}
	lines, err := readLines(filepath.Join(dir, "lines.csv"))
	if err != nil {
		return nil, fmt.Errorf("iocsv: %w", err)
	}
	gens, err := readGenerators(filepath.Join(dir, "generators.csv"))
	if err != nil {
		return nil, fmt.Errorf("iocsv: %w", err)
	}

	inst, err := powermodel.NewInstance(name, buses, lines, gens)
	if err != nil {
		return nil, fmt.Errorf("iocsv: %w", err)
	}
	return inst, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: no data rows", path)
	}
	return rows[1:], nil // skip header
}

// readBuses parses `Bus, Demand 1..24, Zone` (26 columns).
func readBuses(path string) ([]powermodel.Bus, error) {
	rows, err := readCSVRows(path)
	if err != nil {
		return nil, fmt.Errorf("buses.csv: %w", err)
	}

	buses := make([]powermodel.Bus, 0, len(rows))
	for _, row := range rows {
		if len(row) != 2+demandColumns {
			return nil, fmt.Errorf("buses.csv: row has %d columns, want %d", len(row), 2+demandColumns)
		}
		idx, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("buses.csv: bus index: %w", err)
		}
		demand := make([]float64, demandColumns)
		for t := 0; t < demandColumns; t++ {
			v, err := strconv.ParseFloat(row[1+t], 64)
			if err != nil {
				return nil, fmt.Errorf("buses.csv: bus %d demand %d: %w", idx, t+1, err)
			}
			demand[t] = v
		}
		zone, err := strconv.Atoi(row[len(row)-1])
		if err != nil {
			return nil, fmt.Errorf("buses.csv: bus %d zone: %w", idx, err)
		}
		buses = append(buses, powermodel.Bus{Index: idx, Demand: demand, Zone: zone})
	}
	return buses, nil
}

// readLines parses `Line, Source, Target, Reactance, Normal Flow Limit,
// [Emergency Flow Limit,] Vulnerable?, Zone` (7 or 8 columns).
func readLines(path string) ([]powermodel.TransmissionLine, error) {
	rows, err := readCSVRows(path)
	if err != nil {
		return nil, fmt.Errorf("lines.csv: %w", err)
	}

	lines := make([]powermodel.TransmissionLine, 0, len(rows))
	for _, row := range rows {
		hasEmergency := len(row) == 8
		if !hasEmergency && len(row) != 7 {
			return nil, fmt.Errorf("lines.csv: row has %d columns, want 7 or 8", len(row))
		}

		idx, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("lines.csv: line index: %w", err)
		}
		source, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("lines.csv: line %d source: %w", idx, err)
		}
		target, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, fmt.Errorf("lines.csv: line %d target: %w", idx, err)
		}
		reactance, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, fmt.Errorf("lines.csv: line %d reactance: %w", idx, err)
		}
		normalLimit, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			return nil, fmt.Errorf("lines.csv: line %d normal limit: %w", idx, err)
		}

		col := 5
		emergencyLimit := normalLimit
		if hasEmergency {
			emergencyLimit, err = strconv.ParseFloat(row[col], 64)
			if err != nil {
				return nil, fmt.Errorf("lines.csv: line %d emergency limit: %w", idx, err)
			}
			col++
		}

		vulnerable, err := parseBool(row[col])
		if err != nil {
			return nil, fmt.Errorf("lines.csv: line %d vulnerable flag: %w", idx, err)
		}
		col++
		zone, err := strconv.Atoi(row[col])
		if err != nil {
			return nil, fmt.Errorf("lines.csv: line %d zone: %w", idx, err)
		}

		susceptance := (100.0 * 3.141592653589793 / 180.0) / reactance

		lines = append(lines, powermodel.TransmissionLine{
			Index:             idx,
			Source:            source,
			Target:            target,
			Reactance:         reactance,
			Susceptance:       susceptance,
			NormalCapacity:    normalLimit,
			EmergencyCapacity: emergencyLimit,
			Vulnerable:        vulnerable,
			Zone:              zone,
		})
	}
	return lines, nil
}

// readGenerators parses the 20-column generators.csv of spec.md §6.
func readGenerators(path string) ([]powermodel.Generator, error) {
	rows, err := readCSVRows(path)
	if err != nil {
		return nil, fmt.Errorf("generators.csv: %w", err)
	}

	gens := make([]powermodel.Generator, 0, len(rows))
	for i, row := range rows {
		if len(row) != 20 {
			return nil, fmt.Errorf("generators.csv: row has %d columns, want 20", len(row))
		}

		f := func(col int) (float64, error) { return strconv.ParseFloat(row[col], 64) }
		n := func(col int) (int, error) { return strconv.Atoi(row[col]) }

		minPower, err := f(1)
		if err != nil {
			return nil, fmt.Errorf("generators.csv: row %d min power: %w", i, err)
		}
		rampDown, err := f(3)
		if err != nil {
			return nil, err
		}
		rampUp, err := f(4)
		if err != nil {
			return nil, err
		}
		shutdownRamp, err := f(5)
		if err != nil {
			return nil, err
		}
		startupRamp, err := f(6)
		if err != nil {
			return nil, err
		}
		initialState, err := n(7)
		if err != nil {
			return nil, err
		}
		bus, err := n(8)
		if err != nil {
			return nil, err
		}
		alwaysOn, err := parseBool(row[9])
		if err != nil {
			return nil, err
		}
		minUp, err := n(10)
		if err != nil {
			return nil, err
		}
		minDown, err := n(11)
		if err != nil {
			return nil, err
		}
		costMin, err := f(12)
		if err != nil {
			return nil, err
		}

		var segs [3]powermodel.CostSegment
		for s := 0; s < 3; s++ {
			price, err := f(13 + s)
			if err != nil {
				return nil, err
			}
			offer, err := f(16 + s)
			if err != nil {
				return nil, err
			}
			segs[s] = powermodel.CostSegment{OfferSize: offer, MarginalPrice: price}
		}

		startupCost, err := f(19)
		if err != nil {
			return nil, err
		}

		g := powermodel.Generator{
			Index:          i + 1,
			Bus:            bus,
			MinPower:       minPower,
			RampUp:         rampUp,
			RampDown:       rampDown,
			StartupRamp:    startupRamp,
			ShutdownRamp:   shutdownRamp,
			InitialState:   initialState,
			MinUpTime:      minUp,
			MinDownTime:    minDown,
			AlwaysOn:       alwaysOn,
			CostAtMinPower: costMin,
			Segments:       segs,
			StartupCost:    startupCost,
		}
		g.RecomputeMaxPower()
		gens = append(gens, g)
	}
	return gens, nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "1", "true", "True", "TRUE", "yes", "Yes":
		return true, nil
	case "0", "false", "False", "FALSE", "no", "No", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}
