package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seraph/models"
	"seraph/store"
)

type fakeVerifier struct {
	started []string
	code    string
}

func (f *fakeVerifier) StartVerification(phone string) error {
	f.started = append(f.started, phone)
	return nil
}

func (f *fakeVerifier) CheckVerification(phone, code string) (bool, error) {
	return code == f.code, nil
}

func TestSaveDerivesLocationHash(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewUserService(st, nil)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, models.User{
		ID:              "user-1",
		FirstName:       "Ana",
		DefaultLocation: models.Coordinate{Latitude: 14.5995, Longitude: 120.9842},
	}))

	user, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, user.DefaultLocationHash)
	assert.False(t, user.PhoneVerified)
}

func TestPhoneVerificationFlow(t *testing.T) {
	st := store.NewMemoryStore()
	verifier := &fakeVerifier{code: "123456"}
	svc := NewUserService(st, verifier)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, models.User{
		ID:              "user-1",
		Phone:           "+6390000000001",
		DefaultLocation: models.Coordinate{Latitude: 14.5995, Longitude: 120.9842},
	}))

	require.NoError(t, svc.StartPhoneVerification(ctx, "user-1"))
	assert.Equal(t, []string{"+6390000000001"}, verifier.started)

	ok, err := svc.CheckPhoneVerification(ctx, "user-1", "000000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CheckPhoneVerification(ctx, "user-1", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	user, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, user.PhoneVerified)
}

func TestSavePhoneChangeResetsVerification(t *testing.T) {
	st := store.NewMemoryStore()
	verifier := &fakeVerifier{code: "123456"}
	svc := NewUserService(st, verifier)
	ctx := context.Background()

	user := models.User{
		ID:              "user-1",
		Phone:           "+6390000000001",
		DefaultLocation: models.Coordinate{Latitude: 14.5995, Longitude: 120.9842},
	}
	require.NoError(t, svc.Save(ctx, user))

	_, err := svc.CheckPhoneVerification(ctx, "user-1", "123456")
	require.NoError(t, err)

	// Re-save with the same phone keeps verification
	require.NoError(t, svc.Save(ctx, user))
	got, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.PhoneVerified)

	// Changing the number resets it
	user.Phone = "+6390000000099"
	require.NoError(t, svc.Save(ctx, user))
	got, err = svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, got.PhoneVerified)
}

func TestVerificationWithoutVerifierFails(t *testing.T) {
	svc := NewUserService(store.NewMemoryStore(), nil)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, models.User{
		ID:              "user-1",
		Phone:           "+6390000000001",
		DefaultLocation: models.Coordinate{Latitude: 14.5995, Longitude: 120.9842},
	}))

	err := svc.StartPhoneVerification(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrMutationFailed)
}
