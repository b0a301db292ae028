package spatial

import (
	"sort"
	"strings"
)

// HashRange is a contiguous interval of the geohash key space. Start is
// inclusive; End is the exclusive upper key of the covered prefix, so range
// scans over [Start, End) never double-count a boundary document.
type HashRange struct {
	Start string
	End   string
}

// Contains reports whether a stored hash falls inside the range.
func (r HashRange) Contains(hash string) bool {
	return hash >= r.Start && hash < r.End
}

// CoverRadius decomposes a disk of radiusMeters around (lat, lon) into
// geohash prefix ranges. The union of the ranges over-approximates the disk:
// every point within the radius hashes into one of them, but points outside
// the radius can too, so callers must post-filter by true distance.
func CoverRadius(lat, lon, radiusMeters float64) []HashRange {
	precision := PrecisionForRadius(lat, radiusMeters)

	center := Encode(lat, lon, precision)
	cells := append(Neighbors(center), center)

	// Neighbor clamping at the poles can produce duplicate cells.
	seen := make(map[string]bool, len(cells))
	prefixes := cells[:0]
	for _, c := range cells {
		if !seen[c] {
			seen[c] = true
			prefixes = append(prefixes, c)
		}
	}
	sort.Strings(prefixes)

	ranges := make([]HashRange, 0, len(prefixes))
	last := ""
	for _, p := range prefixes {
		// Cells that are consecutive in base32 order form one contiguous
		// key interval; merge them so the store sees fewer scans.
		if n := len(ranges); n > 0 && successor(last) == p {
			ranges[n-1].End = prefixEnd(p)
			last = p
			continue
		}
		ranges = append(ranges, HashRange{Start: p, End: prefixEnd(p)})
		last = p
	}

	return ranges
}

// successor returns the next same-length prefix in base32 order, or "" when
// the last character is already the highest (carrying never pays off here).
func successor(prefix string) string {
	if prefix == "" {
		return ""
	}
	idx := indexOfBase32(prefix[len(prefix)-1])
	if idx < 0 || idx == len(base32)-1 {
		return ""
	}
	return prefix[:len(prefix)-1] + string(base32[idx+1])
}

// prefixEnd returns the smallest key greater than every hash with the given
// prefix. Geohashes extend a prefix with base32 characters, all of which sort
// below '~'.
func prefixEnd(prefix string) string {
	return prefix + "~"
}

// SharedPrefix returns the longest common prefix of two hashes; used by
// diagnostics to estimate how close two stored points are.
func SharedPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// IsHash reports whether s looks like a geohash: non-empty, all characters
// from the base32 alphabet.
func IsHash(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(base32, rune(s[i])) {
			return false
		}
	}
	return true
}
