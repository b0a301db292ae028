package spatial

import "math"

// Base32 alphabet used by geohash encoding. 'a', 'i', 'l' and 'o' are
// excluded to avoid confusion with digits.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// DefaultPrecision is the precision stored alongside documents. Stored hash
// prefixes must stay query-compatible across client versions, so this does
// not change without a backfill.
const DefaultPrecision = 10

// Encode encodes latitude and longitude into a geohash string with the given
// precision (1-12 characters). Longitude bits come first, interleaved with
// latitude bits, five bits per character.
func Encode(lat, lon float64, precision int) string {
	if precision < 1 {
		precision = 1
	}
	if precision > 12 {
		precision = 12
	}

	minLat, maxLat := -90.0, 90.0
	minLon, maxLon := -180.0, 180.0

	hash := make([]byte, 0, precision)
	bits := 0
	ch := 0
	even := true

	for len(hash) < precision {
		if even {
			mid := (minLon + maxLon) / 2
			if lon >= mid {
				ch |= 1 << (4 - bits)
				minLon = mid
			} else {
				maxLon = mid
			}
		} else {
			mid := (minLat + maxLat) / 2
			if lat >= mid {
				ch |= 1 << (4 - bits)
				minLat = mid
			} else {
				maxLat = mid
			}
		}
		even = !even

		bits++
		if bits == 5 {
			hash = append(hash, base32[ch])
			bits = 0
			ch = 0
		}
	}

	return string(hash)
}

// Decode returns the center point of the cell named by the geohash.
func Decode(geohash string) (lat, lon float64) {
	minLat, minLon, maxLat, maxLon := Bounds(geohash)
	return (minLat + maxLat) / 2, (minLon + maxLon) / 2
}

// Bounds returns the bounding box of a geohash cell as
// (minLat, minLon, maxLat, maxLon).
func Bounds(geohash string) (float64, float64, float64, float64) {
	minLat, maxLat := -90.0, 90.0
	minLon, maxLon := -180.0, 180.0

	even := true
	for i := 0; i < len(geohash); i++ {
		idx := indexOfBase32(geohash[i])
		if idx == -1 {
			continue
		}

		for mask := 16; mask > 0; mask >>= 1 {
			if even {
				mid := (minLon + maxLon) / 2
				if idx&mask != 0 {
					minLon = mid
				} else {
					maxLon = mid
				}
			} else {
				mid := (minLat + maxLat) / 2
				if idx&mask != 0 {
					minLat = mid
				} else {
					maxLat = mid
				}
			}
			even = !even
		}
	}

	return minLat, minLon, maxLat, maxLon
}

// Neighbors returns the up-to-8 neighboring cells of a geohash, clamping at
// the poles and wrapping across the antimeridian.
func Neighbors(geohash string) []string {
	lat, lon := Decode(geohash)
	precision := len(geohash)

	minLat, minLon, maxLat, maxLon := Bounds(geohash)
	latDelta := maxLat - minLat
	lonDelta := maxLon - minLon

	neighbors := make([]string, 0, 8)
	for dLat := -1; dLat <= 1; dLat++ {
		for dLon := -1; dLon <= 1; dLon++ {
			if dLat == 0 && dLon == 0 {
				continue
			}
			newLat := lat + float64(dLat)*latDelta
			newLon := lon + float64(dLon)*lonDelta

			if newLat > 90 {
				newLat = 90
			}
			if newLat < -90 {
				newLat = -90
			}
			if newLon > 180 {
				newLon -= 360
			}
			if newLon < -180 {
				newLon += 360
			}

			neighbors = append(neighbors, Encode(newLat, newLon, precision))
		}
	}

	return neighbors
}

// cellSizes holds the approximate cell edge in meters at the equator,
// indexed by precision.
var cellSizes = [13]float64{
	1:  5000000,
	2:  625000,
	3:  123000,
	4:  19500,
	5:  3900,
	6:  610,
	7:  120,
	8:  19,
	9:  3.7,
	10: 0.6,
	11: 0.12,
	12: 0.019,
}

// CellSize returns the approximate equatorial cell edge in meters for a
// precision.
func CellSize(precision int) float64 {
	if precision < 1 || precision > 12 {
		return 0
	}
	return cellSizes[precision]
}

// PrecisionForRadius returns the finest precision whose cell edge still
// covers the radius at the given latitude, so that a center cell plus its
// neighbors cover a disk of that radius. The east-west width of a cell
// shrinks with the cosine of the latitude, so the same radius needs coarser
// cells away from the equator. Capped at 8; finer cells stop pruning
// anything useful for feed and alert radii.
func PrecisionForRadius(lat, radiusMeters float64) int {
	shrink := math.Cos(lat * math.Pi / 180)
	if shrink < 0 {
		shrink = 0
	}
	for precision := 8; precision >= 1; precision-- {
		if CellSize(precision)*shrink >= radiusMeters {
			return precision
		}
	}
	return 1
}

func indexOfBase32(ch byte) int {
	for i := 0; i < len(base32); i++ {
		if base32[i] == ch {
			return i
		}
	}
	return -1
}
