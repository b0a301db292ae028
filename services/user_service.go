package services

import (
	"context"
	"fmt"

	"seraph/models"
	"seraph/sms"
	"seraph/spatial"
	"seraph/store"
)

// UserService manages profile documents and phone verification.
type UserService struct {
	store    store.DocumentStore
	verifier sms.Verifier
}

// NewUserService creates a user service. The verifier may be nil, in which
// case phone verification endpoints report mutation failure.
func NewUserService(st store.DocumentStore, verifier sms.Verifier) *UserService {
	return &UserService{store: st, verifier: verifier}
}

// Get returns a user profile.
func (s *UserService) Get(ctx context.Context, userID string) (models.User, error) {
	doc, err := s.store.Get(ctx, store.CollectionUsers, userID)
	if err != nil {
		return models.User{}, err
	}
	return store.UserFromDocument(doc)
}

// Save upserts a user profile. The default location hash is derived from the
// default location so alert queries can range scan it.
func (s *UserService) Save(ctx context.Context, user models.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: missing user id", models.ErrMutationFailed)
	}
	if err := user.DefaultLocation.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}
	user.DefaultLocationHash = spatial.Encode(
		user.DefaultLocation.Latitude, user.DefaultLocation.Longitude, spatial.DefaultPrecision)

	// Changing the phone number voids any previous verification.
	if existing, err := s.Get(ctx, user.ID); err == nil {
		if existing.Phone == user.Phone {
			user.PhoneVerified = existing.PhoneVerified
		} else {
			user.PhoneVerified = false
		}
	} else {
		user.PhoneVerified = false
	}

	if err := s.store.Put(ctx, store.CollectionUsers, user.ID, store.UserFields(user)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}
	return nil
}

// StartPhoneVerification sends a verification code to the user's phone.
func (s *UserService) StartPhoneVerification(ctx context.Context, userID string) error {
	if s.verifier == nil {
		return fmt.Errorf("%w: verification not configured", models.ErrMutationFailed)
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.Phone == "" {
		return fmt.Errorf("%w: no phone number on profile", models.ErrMutationFailed)
	}

	if err := s.verifier.StartVerification(user.Phone); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}
	return nil
}

// CheckPhoneVerification checks the code and marks the phone verified.
func (s *UserService) CheckPhoneVerification(ctx context.Context, userID, code string) (bool, error) {
	if s.verifier == nil {
		return false, fmt.Errorf("%w: verification not configured", models.ErrMutationFailed)
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.Phone == "" {
		return false, fmt.Errorf("%w: no phone number on profile", models.ErrMutationFailed)
	}

	approved, err := s.verifier.CheckVerification(user.Phone, code)
	if err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}
	if !approved {
		return false, nil
	}

	updates := []store.FieldUpdate{
		{Field: "phone_verified", Op: store.OpSet, Value: true},
	}
	if err := s.store.Update(ctx, store.CollectionUsers, userID, updates); err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrMutationFailed, err)
	}
	return true, nil
}
