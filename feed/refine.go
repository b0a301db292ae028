package feed

import (
	"seraph/models"
	"seraph/spatial"
)

// Refine removes bounding-box false positives from raw scan candidates and
// annotates the survivors with their true great-circle distance. The radius
// boundary is inclusive. Pure; no I/O.
func Refine(candidates []models.Report, center models.Coordinate, radiusMeters float64) []models.FeedEntry {
	entries := make([]models.FeedEntry, 0, len(candidates))
	for _, report := range candidates {
		d := spatial.Distance(
			report.Location.Latitude, report.Location.Longitude,
			center.Latitude, center.Longitude,
		)
		if d <= radiusMeters {
			entries = append(entries, models.FeedEntry{Report: report, DistanceMeters: d})
		}
	}
	return entries
}
