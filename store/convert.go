package store

import (
	"fmt"

	"seraph/models"
)

// Conversions between documents and the closed record types. Malformed
// documents are rejected here, at the collaborator boundary, so nothing
// loosely typed leaks into the engine.

func stringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func floatField(fields map[string]any, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intField(fields map[string]any, key string) (int64, bool) {
	switch v := fields[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func boolField(fields map[string]any, key string) bool {
	b, _ := fields[key].(bool)
	return b
}

func stringsField(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// ReportFromDocument validates and converts a stored document into a Report.
func ReportFromDocument(doc Document) (models.Report, error) {
	owner, ok := stringField(doc.Fields, "owner_id")
	if !ok {
		return models.Report{}, fmt.Errorf("report %s: missing owner_id", doc.ID)
	}
	category, _ := stringField(doc.Fields, FieldCategory)
	if !models.ValidCategory(models.Category(category)) {
		return models.Report{}, fmt.Errorf("report %s: bad category %q", doc.ID, category)
	}
	lat, latOK := floatField(doc.Fields, "latitude")
	lon, lonOK := floatField(doc.Fields, "longitude")
	if !latOK || !lonOK {
		return models.Report{}, fmt.Errorf("report %s: missing location", doc.ID)
	}
	location := models.Coordinate{Latitude: lat, Longitude: lon}
	if err := location.Validate(); err != nil {
		return models.Report{}, fmt.Errorf("report %s: %w", doc.ID, err)
	}
	hash, ok := stringField(doc.Fields, FieldLocationHash)
	if !ok || hash == "" {
		return models.Report{}, fmt.Errorf("report %s: missing location_hash", doc.ID)
	}
	ts, ok := intField(doc.Fields, FieldTimestamp)
	if !ok {
		return models.Report{}, fmt.Errorf("report %s: missing timestamp", doc.ID)
	}

	title, _ := stringField(doc.Fields, "title")
	content, _ := stringField(doc.Fields, "content")

	return models.Report{
		ID:           doc.ID,
		OwnerID:      owner,
		Category:     models.Category(category),
		Title:        title,
		Content:      content,
		Location:     location,
		LocationHash: hash,
		Timestamp:    ts,
		HasMedia:     boolField(doc.Fields, "has_media"),
		Upvotes:      stringsField(doc.Fields, "upvotes"),
		Downvotes:    stringsField(doc.Fields, "downvotes"),
	}, nil
}

// ReportFields flattens a Report into document fields.
func ReportFields(r models.Report) map[string]any {
	return map[string]any{
		"owner_id":        r.OwnerID,
		FieldCategory:     string(r.Category),
		"title":           r.Title,
		"content":         r.Content,
		"latitude":        r.Location.Latitude,
		"longitude":       r.Location.Longitude,
		FieldLocationHash: r.LocationHash,
		FieldTimestamp:    r.Timestamp,
		"has_media":       r.HasMedia,
		"upvotes":         r.Upvotes,
		"downvotes":       r.Downvotes,
	}
}

// CommentFromDocument validates and converts a stored comment.
func CommentFromDocument(doc Document) (models.Comment, error) {
	postID, ok := stringField(doc.Fields, FieldPostID)
	if !ok {
		return models.Comment{}, fmt.Errorf("comment %s: missing post_id", doc.ID)
	}
	author, ok := stringField(doc.Fields, "author_id")
	if !ok {
		return models.Comment{}, fmt.Errorf("comment %s: missing author_id", doc.ID)
	}
	ts, ok := intField(doc.Fields, FieldTimestamp)
	if !ok {
		return models.Comment{}, fmt.Errorf("comment %s: missing timestamp", doc.ID)
	}
	content, _ := stringField(doc.Fields, "content")

	return models.Comment{
		ID:        doc.ID,
		PostID:    postID,
		AuthorID:  author,
		Content:   content,
		Timestamp: ts,
	}, nil
}

// CommentFields flattens a Comment into document fields.
func CommentFields(c models.Comment) map[string]any {
	return map[string]any{
		FieldPostID:    c.PostID,
		"author_id":    c.AuthorID,
		"content":      c.Content,
		FieldTimestamp: c.Timestamp,
	}
}

// UserFromDocument converts a stored user profile. Profiles are enrichment
// data; absent optional fields degrade to zero values rather than erroring.
func UserFromDocument(doc Document) (models.User, error) {
	fName, _ := stringField(doc.Fields, "f_name")
	lName, _ := stringField(doc.Fields, "l_name")
	phone, _ := stringField(doc.Fields, "phone")
	picture, _ := stringField(doc.Fields, "profile_picture")
	hash, _ := stringField(doc.Fields, "default_location_hash")
	lat, _ := floatField(doc.Fields, "default_latitude")
	lon, _ := floatField(doc.Fields, "default_longitude")

	return models.User{
		ID:                  doc.ID,
		FirstName:           fName,
		LastName:            lName,
		Phone:               phone,
		PhoneVerified:       boolField(doc.Fields, "phone_verified"),
		DefaultLocation:     models.Coordinate{Latitude: lat, Longitude: lon},
		DefaultLocationHash: hash,
		ProfilePicture:      picture,
	}, nil
}

// UserFields flattens a User into document fields.
func UserFields(u models.User) map[string]any {
	return map[string]any{
		"f_name":                u.FirstName,
		"l_name":                u.LastName,
		"phone":                 u.Phone,
		"phone_verified":        u.PhoneVerified,
		"default_latitude":      u.DefaultLocation.Latitude,
		"default_longitude":     u.DefaultLocation.Longitude,
		"default_location_hash": u.DefaultLocationHash,
		"profile_picture":       u.ProfilePicture,
	}
}
