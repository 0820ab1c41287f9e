package propagation

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTLE reads a catalog in 3-line (name, line 1, line 2) or bare 2-line
// format. Entries that fail validation are collected in skipped rather than
// aborting the whole catalog.
func ParseTLE(r io.Reader) (elements []*Elements, skipped []error, err error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading TLE data: %w", err)
	}

	for i := 0; i < len(lines); {
		var name, line1, line2 string
		switch {
		case strings.HasPrefix(lines[i], "1 ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "2 "):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && strings.HasPrefix(lines[i+1], "1 ") && strings.HasPrefix(lines[i+2], "2 "):
			name, line1, line2 = strings.TrimPrefix(lines[i], "0 "), lines[i+1], lines[i+2]
			i += 3
		default:
			skipped = append(skipped, fmt.Errorf("%w: unexpected line %d %q", ErrInvalidTLE, i+1, lines[i]))
			i++
			continue
		}

		el, err := NewElements(name, line1, line2)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		if el.Name == "" {
			el.Name = strconv.Itoa(el.CatalogNumber)
		}
		elements = append(elements, el)
	}
	return elements, skipped, nil
}

func parseCatalogNumber(line1 string) (int, error) {
	raw := strings.TrimSpace(line1[2:7])
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("catalog number %q: %w", raw, err)
	}
	return n, nil
}

// parseEpoch converts a TLE epoch in YYDDD.DDDDDDDD format.
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

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

// parseShape extracts eccentricity (implied leading decimal, cols 27-33) and
// mean motion in rev/day (cols 53-63) from line 2.
func parseShape(line2 string) (float64, float64, error) {
	rawEcc := strings.TrimSpace(line2[26:33])
	ecc, err := strconv.ParseFloat("0."+rawEcc, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("eccentricity %q: %w", rawEcc, err)
	}
	rawMM := strings.TrimSpace(line2[52:63])
	mm, err := strconv.ParseFloat(rawMM, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("mean motion %q: %w", rawMM, err)
	}
	if mm <= 0 || math.IsNaN(mm) {
		return 0, 0, fmt.Errorf("mean motion %v must be positive", mm)
	}
	return ecc, mm, nil
}
