package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// tleLineLen is the fixed width of a NORAD element line.
const tleLineLen = 69

// Parse reads NORAD TLE text from r and returns parsed entries. Both the
// 3-line (name + elements) and bare 2-line forms are accepted. Malformed
// entries are skipped with a warning log; they never enter the catalog.
func Parse(r io.Reader, logger *slog.Logger) ([]Satellite, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var sats []Satellite
	for i := 0; i < len(lines); {
		name := ""
		li := i
		if !strings.HasPrefix(lines[li], "1 ") {
			// Name line precedes the element pair.
			name = strings.TrimSpace(lines[li])
			li++
		}
		if li+1 >= len(lines) {
			break
		}
		line1, line2 := lines[li], lines[li+1]

		if err := ValidateLines(line1, line2); err != nil {
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name, "error", err)
			i++
			continue
		}

		// NORAD ID: line1 cols 3-7.
		noradID, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
		if err != nil {
			logger.Warn("skipping TLE entry with invalid NORAD ID", "norad_str", line1[2:7], "name", name)
			i = li + 2
			continue
		}

		// Epoch: line1 cols 19-32.
		epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
		if err != nil {
			logger.Warn("skipping TLE entry with invalid epoch", "name", name, "error", err)
			i = li + 2
			continue
		}

		sats = append(sats, Satellite{
			ID:      strconv.Itoa(noradID),
			NORADID: noradID,
			Name:    name,
			Epoch:   epoch,
			Line1:   line1,
			Line2:   line2,
		})
		i = li + 2
	}

	return sats, nil
}

// ValidateLines checks the minimal format invariants of an element pair:
// 69-character lines with the correct leading line-number digit, and matching
// catalog numbers. This is the gate before anything is handed to the
// propagator.
func ValidateLines(line1, line2 string) error {
	line1 = strings.TrimRight(line1, " ")
	line2 = strings.TrimRight(line2, " ")

	if len(line1) != tleLineLen {
		return fmt.Errorf("line1 length %d, expected %d", len(line1), tleLineLen)
	}
	if len(line2) != tleLineLen {
		return fmt.Errorf("line2 length %d, expected %d", len(line2), tleLineLen)
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got %q", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got %q", line2[0])
	}
	if line1[2:7] != line2[2:7] {
		return fmt.Errorf("catalog number mismatch: %q vs %q", line1[2:7], line2[2:7])
	}
	return nil
}

// parseEpoch converts a TLE epoch in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// Day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

// MeanMotionRevsPerDay extracts the mean motion (revolutions/day) from
// line2 cols 53-63.
func MeanMotionRevsPerDay(line2 string) (float64, error) {
	if len(line2) < 63 {
		return 0, fmt.Errorf("line2 too short for mean motion field")
	}
	mm, err := strconv.ParseFloat(strings.TrimSpace(line2[52:63]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid mean motion %q: %w", line2[52:63], err)
	}
	if mm <= 0 {
		return 0, fmt.Errorf("non-positive mean motion %f", mm)
	}
	return mm, nil
}

// BuildCatalog assembles a Catalog from parsed satellites, computing the
// epoch range.
func BuildCatalog(source string, fetchedAt time.Time, sats []Satellite) *Catalog {
	c := &Catalog{
		Source:     source,
		FetchedAt:  fetchedAt,
		Satellites: sats,
	}
	for i, s := range sats {
		if i == 0 || s.Epoch.Before(c.EpochRange.Min) {
			c.EpochRange.Min = s.Epoch
		}
		if i == 0 || s.Epoch.After(c.EpochRange.Max) {
			c.EpochRange.Max = s.Epoch
		}
	}
	return c
}
