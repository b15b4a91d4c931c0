package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/models"
)

// ErrPhotosUnavailable means no photo bucket is configured
var ErrPhotosUnavailable = errors.New("photo uploads are not configured")

// UserProfileService reads and edits the signed-in player's profile
type UserProfileService struct {
	store    Store
	uploader PhotoUploader
	log      *zap.Logger
}

// NewUserProfileService builds the service. uploader may be nil.
func NewUserProfileService(store Store, uploader PhotoUploader, log *zap.Logger) *UserProfileService {
	return &UserProfileService{store: store, uploader: uploader, log: logger.OrNop(log).Named("profile")}
}

// GetUserProfile returns the profile of userID
func (s *UserProfileService) GetUserProfile(ctx context.Context, userID int64) (models.PlayerProfile, error) {
	return s.store.GetPlayer(ctx, userID)
}

// EnsureUserProfile creates an empty profile for a first-time user
func (s *UserProfileService) EnsureUserProfile(ctx context.Context, userID int64) (models.PlayerProfile, error) {
	p, err := s.store.GetPlayer(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPlayerNotFound) {
		return models.PlayerProfile{}, err
	}
	p = models.PlayerProfile{UserID: userID, Name: fmt.Sprintf("Player %d", userID)}
	if err := s.store.PutPlayer(ctx, p); err != nil {
		return models.PlayerProfile{}, fmt.Errorf("failed to create profile: %w", err)
	}
	s.log.Info("profile created", zap.Int64("user_id", userID))
	return p, nil
}

// UpdateUserProfile applies the non-nil fields of u
func (s *UserProfileService) UpdateUserProfile(ctx context.Context, userID int64, u models.ProfileUpdate) (models.PlayerProfile, error) {
	p, err := s.EnsureUserProfile(ctx, userID)
	if err != nil {
		return models.PlayerProfile{}, err
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.SkillLevel != nil {
		p.SkillLevel = *u.SkillLevel
	}
	if u.Bio != nil {
		p.Bio = *u.Bio
	}
	if u.PhotoKey != nil {
		p.PhotoKey = *u.PhotoKey
	}
	if u.Latitude != nil {
		p.Latitude = *u.Latitude
	}
	if u.Longitude != nil {
		p.Longitude = *u.Longitude
	}
	if err := s.store.PutPlayer(ctx, p); err != nil {
		return models.PlayerProfile{}, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// PhotoUploadURL presigns an upload; the client stores the returned key with UpdateUserProfile
func (s *UserProfileService) PhotoUploadURL(ctx context.Context, userID int64, fileName, contentType string) (string, string, error) {
	if s.uploader == nil {
		return "", "", ErrPhotosUnavailable
	}
	return s.uploader.UploadURL(ctx, userID, fileName, contentType)
}
