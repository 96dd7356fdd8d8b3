package services

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"booking-scraper/models"
)

var (
	// priceCharsRegexp matches everything that is not a digit or separator.
	priceCharsRegexp = regexp.MustCompile(`[^\d.,]`)
	// integerRegexp captures the first run of digits.
	integerRegexp = regexp.MustCompile(`\d+`)
	// scoreRegexp captures a decimal score with either separator.
	scoreRegexp = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)
	// pairRegexp captures a "lat,lon" pair.
	pairRegexp = regexp.MustCompile(`^\s*(-?[\d.]+)\s*,\s*(-?[\d.]+)\s*$`)
)

// CleanText normalises free text: NFKD decomposition, then only letters
// (basic and extended Latin), digits, spaces and - ' , . are kept, and runs
// of whitespace collapse to one space.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if !allowedRune(r) {
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 'À' && r <= 'Ö', r >= 'Ø' && r <= 'ö', r >= 'ø' && r <= 'ÿ':
		return true
	}
	return strings.ContainsRune(`-',.`, r)
}

// ParsePrice normalises currency-like text. When both "," and "." occur the
// comma is a thousands separator; a lone comma is a decimal separator.
// Anything unparseable is unknown.
//
//	"1,234.56" -> 1234.56
//	"1234,56"  -> 1234.56
//	"abc"      -> unknown
func ParsePrice(raw string) models.Value {
	s := priceCharsRegexp.ReplaceAllString(raw, "")
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ",", ".")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return models.Unknown(models.KindNumber)
	}
	return models.Number(f)
}

// ParseCount returns the first integer in raw, e.g. "1,024 reviews" -> 1024.
func ParseCount(raw string) models.Value {
	m := integerRegexp.FindString(strings.ReplaceAll(raw, ",", ""))
	if m == "" {
		return models.Unknown(models.KindNumber)
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return models.Unknown(models.KindNumber)
	}
	return models.Number(float64(n))
}

// ParseScore reads a review score such as "8,7" or "Scored 9.1".
// Scores outside 0-10 are unknown.
func ParseScore(raw string) models.Value {
	m := scoreRegexp.FindStringSubmatch(raw)
	if m == nil {
		return models.Unknown(models.KindNumber)
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || f < 0 || f > 10 {
		return models.Unknown(models.KindNumber)
	}
	return models.Number(f)
}

// PriceRange parses one price per line and returns the smallest and largest.
// Each line keeps only its digits, as room price cells never carry decimals.
func PriceRange(raw string) (min, max models.Value) {
	min, max = models.Unknown(models.KindNumber), models.Unknown(models.KindNumber)
	var lo, hi float64
	found := false
	for _, line := range strings.Split(raw, "\n") {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, line)
		if digits == "" {
			continue
		}
		n, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			continue
		}
		if !found || n < lo {
			lo = n
		}
		if !found || n > hi {
			hi = n
		}
		found = true
	}
	if found {
		min, max = models.Number(lo), models.Number(hi)
	}
	return min, max
}

// ValidateCoordinates accepts a pair only when both halves are in range.
// An invalid pair comes back as two unknowns, never one of each.
func ValidateCoordinates(lat, lon float64) (models.Value, models.Value) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return models.Unknown(models.KindCoordinate), models.Unknown(models.KindCoordinate)
	}
	return models.Coordinate(lat), models.Coordinate(lon)
}

// ParseCoordinatePair parses "lat,lon" and validates it.
func ParseCoordinatePair(raw string) (models.Value, models.Value) {
	m := pairRegexp.FindStringSubmatch(raw)
	if m == nil {
		return models.Unknown(models.KindCoordinate), models.Unknown(models.KindCoordinate)
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lon, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return models.Unknown(models.KindCoordinate), models.Unknown(models.KindCoordinate)
	}
	return ValidateCoordinates(lat, lon)
}

// ApplyLabels maps a raw label through table; unmapped labels pass through.
func ApplyLabels(label string, table map[string]string) string {
	if mapped, ok := table[strings.TrimSpace(label)]; ok {
		return mapped
	}
	return label
}
