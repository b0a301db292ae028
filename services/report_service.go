package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	geojson "github.com/paulmach/go.geojson"

	"seraph/feed"
	"seraph/geocode"
	"seraph/media"
	"seraph/models"
	"seraph/rabbitmq"
	"seraph/spatial"
	"seraph/store"
)

// EventPublisher publishes report lifecycle events.
type EventPublisher interface {
	Publish(routingKey string, message interface{}) error
}

// MediaStorage stores and serves report attachments.
type MediaStorage interface {
	UploadAll(ctx context.Context, keyPrefix string, files []media.Upload) error
	ListURLs(ctx context.Context, keyPrefix string) ([]string, error)
	DeleteAll(ctx context.Context, keyPrefix string) error
}

// Geocoder resolves coordinates to addresses.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, coord models.Coordinate) (string, error)
}

// SearchIndexer keeps the full-text index in sync with report writes.
type SearchIndexer interface {
	IndexReport(r models.Report) error
	Delete(id string) error
}

// PublishInput is a new report submission.
type PublishInput struct {
	Category models.Category
	Title    string
	Content  string
	Location models.Coordinate
	Media    []media.Upload
}

// ReportService implements report publishing, editing, voting, commenting
// and the proximity feed. All collaborators except the store are optional;
// missing ones degrade the related feature instead of failing the request.
type ReportService struct {
	store      store.DocumentStore
	querier    *feed.Querier
	mediaStore MediaStorage
	geocoder   Geocoder
	search     SearchIndexer
	events     EventPublisher
}

// NewReportService creates a report service. Optional collaborators may be nil.
func NewReportService(st store.DocumentStore) *ReportService {
	return &ReportService{
		store:   st,
		querier: feed.NewQuerier(st),
	}
}

func (s *ReportService) WithMedia(m MediaStorage) *ReportService {
	s.mediaStore = m
	return s
}

func (s *ReportService) WithGeocoder(g Geocoder) *ReportService {
	s.geocoder = g
	return s
}

func (s *ReportService) WithSearch(idx SearchIndexer) *ReportService {
	s.search = idx
	return s
}

func (s *ReportService) WithEvents(p EventPublisher) *ReportService {
	s.events = p
	return s
}

// Publish stores a new report. Media is uploaded before the document is
// written so a reader never sees a report whose attachments are missing.
func (s *ReportService) Publish(ctx context.Context, ownerID string, input PublishInput) (models.Report, error) {
	if ownerID == "" {
		return models.Report{}, fmt.Errorf("%w: missing owner", models.ErrMutationFailed)
	}
	if !models.ValidCategory(input.Category) {
		return models.Report{}, fmt.Errorf("%w: invalid category %q", models.ErrMutationFailed, input.Category)
	}
	if err := input.Location.Validate(); err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}
	if input.Title == "" {
		return models.Report{}, fmt.Errorf("%w: missing title", models.ErrMutationFailed)
	}

	report := models.Report{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Category:     input.Category,
		Title:        input.Title,
		Content:      input.Content,
		Location:     input.Location,
		LocationHash: spatial.Encode(input.Location.Latitude, input.Location.Longitude, spatial.DefaultPrecision),
		Timestamp:    time.Now().UnixMilli(),
		HasMedia:     len(input.Media) > 0,
		Upvotes:      []string{},
		Downvotes:    []string{},
	}

	if len(input.Media) > 0 {
		if s.mediaStore == nil {
			return models.Report{}, fmt.Errorf("%w: media storage not configured", models.ErrMutationFailed)
		}
		if err := s.mediaStore.UploadAll(ctx, report.ID, input.Media); err != nil {
			return models.Report{}, fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
		}
	}

	if err := s.store.Put(ctx, store.CollectionReports, report.ID, store.ReportFields(report)); err != nil {
		// Media uploaded but document write failed, clear the orphans.
		if report.HasMedia {
			if cleanupErr := s.mediaStore.DeleteAll(ctx, report.ID); cleanupErr != nil {
				log.Warnf("Failed to clean up media for %s: %v", report.ID, cleanupErr)
			}
		}
		return models.Report{}, fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}

	if s.search != nil {
		if err := s.search.IndexReport(report); err != nil {
			log.Warnf("Failed to index report %s: %v", report.ID, err)
		}
	}

	s.publishEvent(rabbitmq.RoutingKeyReportPublished, report)

	return report, nil
}

// Get returns a single report by id.
func (s *ReportService) Get(ctx context.Context, reportID string) (models.Report, error) {
	doc, err := s.store.Get(ctx, store.CollectionReports, reportID)
	if err != nil {
		return models.Report{}, err
	}
	return store.ReportFromDocument(doc)
}

// Edit replaces the editable fields of a report the caller owns. Location,
// votes and timestamp are immutable through this path.
func (s *ReportService) Edit(ctx context.Context, userID, reportID string, patch models.ReportPatch) (models.Report, error) {
	if !models.ValidCategory(patch.Category) {
		return models.Report{}, fmt.Errorf("%w: invalid category %q", models.ErrMutationFailed, patch.Category)
	}
	if patch.Title == "" {
		return models.Report{}, fmt.Errorf("%w: missing title", models.ErrMutationFailed)
	}

	report, err := s.Get(ctx, reportID)
	if err != nil {
		return models.Report{}, err
	}
	if report.OwnerID != userID {
		return models.Report{}, models.ErrPermissionDenied
	}

	report.Title = patch.Title
	report.Content = patch.Content
	report.Category = patch.Category

	updates := []store.FieldUpdate{
		{Field: "title", Op: store.OpSet, Value: patch.Title},
		{Field: "content", Op: store.OpSet, Value: patch.Content},
		{Field: store.FieldCategory, Op: store.OpSet, Value: string(patch.Category)},
	}
	if err := s.store.Update(ctx, store.CollectionReports, reportID, updates); err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}

	if s.search != nil {
		if err := s.search.IndexReport(report); err != nil {
			log.Warnf("Failed to reindex report %s: %v", report.ID, err)
		}
	}

	return report, nil
}

// Delete removes a report the caller owns, cascading to its comments, media
// and search entry.
func (s *ReportService) Delete(ctx context.Context, userID, reportID string) error {
	report, err := s.Get(ctx, reportID)
	if err != nil {
		return err
	}
	if report.OwnerID != userID {
		return models.ErrPermissionDenied
	}

	if err := s.store.Delete(ctx, store.CollectionReports, reportID); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}

	// Cascades are best effort, the report itself is already gone.
	s.deleteComments(ctx, reportID)

	if report.HasMedia && s.mediaStore != nil {
		if err := s.mediaStore.DeleteAll(ctx, reportID); err != nil {
			log.Warnf("Failed to delete media for %s: %v", reportID, err)
		}
	}

	if s.search != nil {
		if err := s.search.Delete(reportID); err != nil {
			log.Warnf("Failed to deindex report %s: %v", reportID, err)
		}
	}

	s.publishEvent(rabbitmq.RoutingKeyReportDeleted, report)

	return nil
}

func (s *ReportService) deleteComments(ctx context.Context, reportID string) {
	docs, err := s.store.RangeScan(ctx, store.Scan{
		Collection: store.CollectionComments,
		Filter:     &store.Filter{Field: store.FieldPostID, Value: reportID},
	})
	if err != nil {
		log.Warnf("Failed to list comments for %s: %v", reportID, err)
		return
	}
	for _, doc := range docs {
		if err := s.store.Delete(ctx, store.CollectionComments, doc.ID); err != nil {
			log.Warnf("Failed to delete comment %s: %v", doc.ID, err)
		}
	}
}

// Vote toggles the caller's vote on a report.
func (s *ReportService) Vote(ctx context.Context, userID, reportID string, direction feed.VoteDirection) (models.Report, error) {
	if !direction.Valid() {
		return models.Report{}, fmt.Errorf("%w: invalid vote direction", models.ErrMutationFailed)
	}

	report, err := s.Get(ctx, reportID)
	if err != nil {
		return models.Report{}, err
	}

	newUp, newDown, updates := feed.ToggleVote(report.Upvotes, report.Downvotes, userID, direction)
	if err := s.store.Update(ctx, store.CollectionReports, reportID, updates); err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}

	report.Upvotes = newUp
	report.Downvotes = newDown
	return report, nil
}

// Comment appends a comment to a report. Live watchers are notified through
// the store subscription backing their comment room, not by this method.
func (s *ReportService) Comment(ctx context.Context, userID, reportID, content string) (models.Comment, error) {
	if content == "" {
		return models.Comment{}, fmt.Errorf("%w: empty comment", models.ErrMutationFailed)
	}
	if _, err := s.Get(ctx, reportID); err != nil {
		return models.Comment{}, err
	}

	comment := models.Comment{
		PostID:    reportID,
		AuthorID:  userID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}

	id, err := s.store.Create(ctx, store.CollectionComments, store.CommentFields(comment))
	if err != nil {
		return models.Comment{}, fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}
	comment.ID = id
	return comment, nil
}

// Comments returns a report's comments in ascending time order.
func (s *ReportService) Comments(ctx context.Context, reportID string) ([]models.Comment, error) {
	docs, err := s.store.RangeScan(ctx, store.Scan{
		Collection: store.CollectionComments,
		OrderBy:    []store.Order{{Field: store.FieldTimestamp}},
		Filter:     &store.Filter{Field: store.FieldPostID, Value: reportID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrQueryFailed, err)
	}

	comments := make([]models.Comment, 0, len(docs))
	for _, doc := range docs {
		c, err := store.CommentFromDocument(doc)
		if err != nil {
			log.Warnf("Skipping malformed comment %s: %v", doc.ID, err)
			continue
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// Feed runs a one-shot proximity query and enriches the results.
func (s *ReportService) Feed(ctx context.Context, query models.FeedQuery) ([]models.FeedEntry, error) {
	candidates, err := s.querier.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	entries := feed.Refine(candidates, query.Center, query.RadiusMeters)
	s.enrich(ctx, entries)
	return entries, nil
}

// FeedGeoJSON renders feed results as a GeoJSON feature collection.
func (s *ReportService) FeedGeoJSON(ctx context.Context, query models.FeedQuery) (*geojson.FeatureCollection, error) {
	entries, err := s.Feed(ctx, query)
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for _, e := range entries {
		f := geojson.NewPointFeature([]float64{e.Report.Location.Longitude, e.Report.Location.Latitude})
		f.ID = e.Report.ID
		f.SetProperty("category", string(e.Report.Category))
		f.SetProperty("title", e.Report.Title)
		f.SetProperty("timestamp", e.Report.Timestamp)
		f.SetProperty("distance_meters", e.DistanceMeters)
		f.SetProperty("upvotes", len(e.Report.Upvotes))
		f.SetProperty("downvotes", len(e.Report.Downvotes))
		if e.Address != "" {
			f.SetProperty("address", e.Address)
		}
		fc.AddFeature(f)
	}
	return fc, nil
}

// enrich decorates entries with owner names, addresses and media URLs.
// Lookups run concurrently per entry; a failed lookup leaves a fallback
// value instead of failing the feed.
func (s *ReportService) enrich(ctx context.Context, entries []models.FeedEntry) {
	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		go func(e *models.FeedEntry) {
			defer wg.Done()
			s.enrichOne(ctx, e)
		}(&entries[i])
	}
	wg.Wait()
}

func (s *ReportService) enrichOne(ctx context.Context, e *models.FeedEntry) {
	e.OwnerName = "Unknown user"
	if doc, err := s.store.Get(ctx, store.CollectionUsers, e.Report.OwnerID); err == nil {
		if user, err := store.UserFromDocument(doc); err == nil {
			e.OwnerName = user.FullName()
		}
	}

	e.Address = geocode.FallbackLabel(e.Report.Location)
	if s.geocoder != nil {
		if addr, err := s.geocoder.ReverseGeocode(ctx, e.Report.Location); err == nil {
			e.Address = addr
		} else {
			log.Debugf("Reverse geocode failed for %s: %v", e.Report.ID, err)
		}
	}

	if e.Report.HasMedia && s.mediaStore != nil {
		urls, err := s.mediaStore.ListURLs(ctx, e.Report.ID)
		if err != nil {
			log.Warnf("Failed to list media for %s: %v", e.Report.ID, err)
		} else {
			e.MediaURLs = urls
		}
	}
}

func (s *ReportService) publishEvent(routingKey string, report models.Report) {
	if s.events == nil {
		return
	}
	event := rabbitmq.ReportEvent{
		ReportID:     report.ID,
		OwnerID:      report.OwnerID,
		Category:     string(report.Category),
		Title:        report.Title,
		Latitude:     report.Location.Latitude,
		Longitude:    report.Location.Longitude,
		LocationHash: report.LocationHash,
		Timestamp:    report.Timestamp,
	}
	if err := s.events.Publish(routingKey, event); err != nil {
		log.Warnf("Failed to publish %s event for %s: %v", routingKey, report.ID, err)
	}
}
