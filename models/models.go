package models

import (
	"fmt"
)

// Category classifies a report. The four values are fixed; the mobile and web
// clients render each with its own badge color.
type Category string

const (
	CategoryIncident Category = "incident"
	CategoryAccident Category = "accident"
	CategoryHazard   Category = "hazard"
	CategoryCrime    Category = "crime"
)

// ValidCategory reports whether c is one of the known report categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryIncident, CategoryAccident, CategoryHazard, CategoryCrime:
		return true
	}
	return false
}

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks the coordinate is within [-90,90]x[-180,180].
func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// Report is a published community report. Upvotes and Downvotes hold user ids;
// a user appears in at most one of the two.
type Report struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Category     Category   `json:"category"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	Location     Coordinate `json:"location"`
	LocationHash string     `json:"location_hash"`
	Timestamp    int64      `json:"timestamp"` // creation instant, unix millis
	HasMedia     bool       `json:"has_media"`
	Upvotes      []string   `json:"upvotes"`
	Downvotes    []string   `json:"downvotes"`
}

// ReportPatch carries the owner-editable fields of a report. Location, votes
// and timestamp are never part of an edit.
type ReportPatch struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category Category `json:"category"`
}

// Comment is an append-only entry under a report.
type Comment struct {
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix millis, ascending within a post
}

// User is the profile document. DefaultLocation is the last known location
// used for proximity SMS alerts; only verified phone numbers receive them.
type User struct {
	ID                  string     `json:"id"`
	FirstName           string     `json:"f_name"`
	LastName            string     `json:"l_name"`
	Phone               string     `json:"phone"`
	PhoneVerified       bool       `json:"phone_verified"`
	DefaultLocation     Coordinate `json:"default_location"`
	DefaultLocationHash string     `json:"default_location_hash"`
	ProfilePicture      string     `json:"profile_picture"`
}

// FullName returns the display name for a user.
func (u User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return "Unknown user"
	}
	return u.FirstName + " " + u.LastName
}

// FeedQuery is the input of the proximity feed engine. A zero Category means
// no category filter.
type FeedQuery struct {
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
	Category     Category   `json:"category,omitempty"`
}

// Equal reports whether two queries are the same query identity. Stale scan
// results are discarded by comparing identities, not arrival order.
func (q FeedQuery) Equal(other FeedQuery) bool {
	return q.Center == other.Center &&
		q.RadiusMeters == other.RadiusMeters &&
		q.Category == other.Category
}

// Validate rejects non-positive radii and out-of-range centers.
func (q FeedQuery) Validate() error {
	if err := q.Center.Validate(); err != nil {
		return err
	}
	if q.RadiusMeters <= 0 {
		return fmt.Errorf("radius must be positive, got %f", q.RadiusMeters)
	}
	if q.Category != "" && !ValidCategory(q.Category) {
		return fmt.Errorf("unknown category %q", q.Category)
	}
	return nil
}

// FeedEntry is one refined feed item: the report plus its true great-circle
// distance from the query center and display enrichment. Enrichment fields
// are best effort; an entry renders with placeholders when they are missing.
type FeedEntry struct {
	Report         Report   `json:"report"`
	DistanceMeters float64  `json:"distance_meters"`
	OwnerName      string   `json:"owner_name,omitempty"`
	Address        string   `json:"address,omitempty"`
	MediaURLs      []string `json:"media_urls,omitempty"`
}

// DistanceLabel formats the distance the way the feed displays it,
// e.g. "340 m away" or "4.2 km away".
func (e FeedEntry) DistanceLabel() string {
	if e.DistanceMeters < 1000 {
		return fmt.Sprintf("%.0f m away", e.DistanceMeters)
	}
	return fmt.Sprintf("%.1f km away", e.DistanceMeters/1000)
}
