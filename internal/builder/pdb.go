package builder

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Box is the unit cell from a PDB CRYST1 record. Lengths are in
// angstrom, angles in degrees.
type Box struct {
	A, B, C            float64
	Alpha, Beta, Gamma float64
	SpaceGroup         string
}

// ReadCryst1 scans a PDB file for its CRYST1 record. The record uses
// fixed columns (PDB format v3.3), so fields are sliced, not split.
func ReadCryst1(path string) (Box, error) {
	f, err := os.Open(path)
	if err != nil {
		return Box{}, fmt.Errorf("read box: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "CRYST1") {
			continue
		}
		return parseCryst1(line)
	}
	if err := sc.Err(); err != nil {
		return Box{}, fmt.Errorf("read box: %w", err)
	}
	return Box{}, fmt.Errorf("read box: %s has no CRYST1 record", path)
}

func parseCryst1(line string) (Box, error) {
	if len(line) < 54 {
		return Box{}, fmt.Errorf("read box: CRYST1 record too short: %q", line)
	}
	cols := [][2]int{{6, 15}, {15, 24}, {24, 33}, {33, 40}, {40, 47}, {47, 54}}

	var b Box
	dsts := []*float64{&b.A, &b.B, &b.C, &b.Alpha, &b.Beta, &b.Gamma}
	for i, c := range cols {
		raw := strings.TrimSpace(line[c[0]:c[1]])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Box{}, fmt.Errorf("read box: bad CRYST1 field %q: %w", raw, err)
		}
		*dsts[i] = v
	}
	if len(line) >= 66 {
		b.SpaceGroup = strings.TrimSpace(line[55:66])
	}
	if b.A <= 0 || b.B <= 0 || b.C <= 0 {
		return b, fmt.Errorf("read box: degenerate cell %.2f %.2f %.2f", b.A, b.B, b.C)
	}
	return b, nil
}

// Nanometers returns the cell lengths converted from angstrom, the
// unit editconf expects.
func (b Box) Nanometers() (a, bb, c float64) {
	return b.A / 10, b.B / 10, b.C / 10
}
