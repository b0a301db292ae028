package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"

	"seraph/models"
	"seraph/rabbitmq"
	"seraph/sms"
	"seraph/spatial"
	"seraph/store"
)

// AlertService texts users whose default location is close to a newly
// published report. It consumes report events from the queue so alert
// delivery never sits on the publish path.
type AlertService struct {
	store        store.DocumentStore
	sender       sms.Sender
	radiusMeters float64
}

// NewAlertService creates an alert service.
func NewAlertService(st store.DocumentStore, sender sms.Sender, radiusMeters float64) *AlertService {
	return &AlertService{store: st, sender: sender, radiusMeters: radiusMeters}
}

// HandleReportPublished is the queue callback for report.published events.
func (s *AlertService) HandleReportPublished(msg *rabbitmq.Message) error {
	var event rabbitmq.ReportEvent
	if err := msg.UnmarshalTo(&event); err != nil {
		return fmt.Errorf("failed to decode report event: %w", err)
	}

	ctx := context.Background()
	recipients, err := s.NearbyRecipients(ctx, models.Coordinate{
		Latitude:  event.Latitude,
		Longitude: event.Longitude,
	}, event.OwnerID)
	if err != nil {
		return err
	}

	body := alertBody(event)
	for _, user := range recipients {
		// Fire and forget; one unreachable number must not delay the rest.
		go func(phone string) {
			if err := s.sender.Send(phone, body); err != nil {
				log.Warnf("Failed to send alert SMS: %v", err)
			}
		}(user.Phone)
	}

	log.WithFields(log.Fields{
		"report_id":  event.ReportID,
		"recipients": len(recipients),
	}).Info("Dispatched proximity alerts")
	return nil
}

// NearbyRecipients returns verified users whose default location lies within
// the alert radius of center, excluding the report owner.
func (s *AlertService) NearbyRecipients(ctx context.Context, center models.Coordinate, ownerID string) ([]models.User, error) {
	ranges := spatial.CoverRadius(center.Latitude, center.Longitude, s.radiusMeters)

	var (
		mu    sync.Mutex
		users []models.User
		errs  []error
		wg    sync.WaitGroup
	)
	for _, r := range ranges {
		wg.Add(1)
		go func(r spatial.HashRange) {
			defer wg.Done()
			docs, err := s.store.RangeScan(ctx, store.Scan{
				Collection: store.CollectionUsers,
				OrderBy:    []store.Order{{Field: store.FieldDefaultLocationHash}},
				Range:      &store.KeyRange{Start: r.Start, End: r.End},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			for _, doc := range docs {
				user, err := store.UserFromDocument(doc)
				if err != nil {
					log.Warnf("Skipping malformed user %s: %v", doc.ID, err)
					continue
				}
				users = append(users, user)
			}
		}(r)
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", models.ErrQueryFailed, errs[0])
	}

	seen := make(map[string]bool, len(users))
	recipients := make([]models.User, 0, len(users))
	for _, user := range users {
		if seen[user.ID] || user.ID == ownerID {
			continue
		}
		seen[user.ID] = true
		if !user.PhoneVerified || user.Phone == "" {
			continue
		}
		if spatial.Distance(center.Latitude, center.Longitude,
			user.DefaultLocation.Latitude, user.DefaultLocation.Longitude) > s.radiusMeters {
			continue
		}
		recipients = append(recipients, user)
	}
	return recipients, nil
}

func alertBody(event rabbitmq.ReportEvent) string {
	return fmt.Sprintf("New %s reported near you: %s", event.Category, event.Title)
}
