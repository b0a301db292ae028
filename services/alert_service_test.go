package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seraph/models"
	"seraph/rabbitmq"
	"seraph/spatial"
	"seraph/store"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeSender) waitForSent(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		count := len(f.sent)
		f.mu.Unlock()
		if count >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func putUser(t *testing.T, st store.DocumentStore, id, phone string, verified bool, lat, lon float64) {
	t.Helper()
	user := models.User{
		ID:                  id,
		FirstName:           "Test",
		LastName:            id,
		Phone:               phone,
		PhoneVerified:       verified,
		DefaultLocation:     models.Coordinate{Latitude: lat, Longitude: lon},
		DefaultLocationHash: spatial.Encode(lat, lon, spatial.DefaultPrecision),
	}
	require.NoError(t, st.Put(context.Background(), store.CollectionUsers, id, store.UserFields(user)))
}

func TestNearbyRecipientsFiltersByDistanceAndVerification(t *testing.T) {
	st := store.NewMemoryStore()
	center := models.Coordinate{Latitude: 14.5995, Longitude: 120.9842}

	// ~150m east of center
	putUser(t, st, "near-verified", "+6390000000001", true, 14.5995, 120.9856)
	// Same spot but unverified phone
	putUser(t, st, "near-unverified", "+6390000000002", false, 14.5995, 120.9856)
	// Verified but no phone number
	putUser(t, st, "near-no-phone", "", true, 14.5995, 120.9856)
	// ~20km away
	putUser(t, st, "far-verified", "+6390000000003", true, 14.40, 121.05)
	// The report owner is never alerted
	putUser(t, st, "owner", "+6390000000004", true, 14.5995, 120.9842)

	svc := NewAlertService(st, &fakeSender{}, 5000)

	recipients, err := svc.NearbyRecipients(context.Background(), center, "owner")
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "near-verified", recipients[0].ID)
}

func TestHandleReportPublishedSendsAlerts(t *testing.T) {
	st := store.NewMemoryStore()
	putUser(t, st, "neighbor", "+6390000000001", true, 14.5995, 120.9856)

	sender := &fakeSender{}
	svc := NewAlertService(st, sender, 5000)

	event := rabbitmq.ReportEvent{
		ReportID:  "r1",
		OwnerID:   "owner",
		Category:  "hazard",
		Title:     "Gas leak",
		Latitude:  14.5995,
		Longitude: 120.9842,
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, svc.HandleReportPublished(&rabbitmq.Message{
		Body:       body,
		RoutingKey: rabbitmq.RoutingKeyReportPublished,
	}))

	sent := sender.waitForSent(t, 1)
	require.Len(t, sent, 1)
	assert.Equal(t, "+6390000000001", sent[0])
}

func TestHandleReportPublishedRejectsBadPayload(t *testing.T) {
	svc := NewAlertService(store.NewMemoryStore(), &fakeSender{}, 5000)

	err := svc.HandleReportPublished(&rabbitmq.Message{Body: []byte("not json")})
	assert.Error(t, err)
}
