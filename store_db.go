package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"sabapplier/models"
)

// userRecord is the single table backing the Postgres store. The data column
// holds the whole serialized profile and is the source of truth; google_id,
// email, full_name and avatar_url are denormalized for the login join only.
type userRecord struct {
	UserID    string         `gorm:"column:user_id;size:64;primaryKey"`
	GoogleID  string         `gorm:"column:google_id;size:128;uniqueIndex;not null"`
	Email     string         `gorm:"size:255;index"`
	FullName  string         `gorm:"size:255"`
	AvatarURL string         `gorm:"size:512"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userRecord) TableName() string { return "user_records" }

type dbStore struct {
	db  *gorm.DB
	log *zap.Logger
}

func newDBStore(dsn string, log *zap.Logger) (*dbStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&userRecord{}); err != nil {
		return nil, err
	}
	return &dbStore{db: db, log: log}, nil
}

func (s *dbStore) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "user_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return recordToProfile(&rec)
}

func (s *dbStore) GetByGoogleID(ctx context.Context, googleID string) (*models.UserProfile, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "google_id = ?", googleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return recordToProfile(&rec)
}

func (s *dbStore) Create(ctx context.Context, profile *models.UserProfile) error {
	normalizeProfile(profile)
	rec, err := profileToRecord(profile)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// Patch is a plain read-modify-write; concurrent patches to the same user
// are last-writer-wins (no row locking, no version token).
func (s *dbStore) Patch(ctx context.Context, id string, patch *models.ProfilePatch) (*models.UserProfile, error) {
	profile, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(profile, patch)
	rec, err := profileToRecord(profile)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *dbStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&userRecord{}, "user_id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func recordToProfile(rec *userRecord) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := json.Unmarshal(rec.Data, &profile); err != nil {
		return nil, err
	}
	normalizeProfile(&profile)
	return &profile, nil
}

func profileToRecord(profile *models.UserProfile) (*userRecord, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return nil, err
	}
	return &userRecord{
		UserID:    profile.UserID,
		GoogleID:  profile.GoogleID,
		Email:     profile.Email,
		FullName:  profile.FullName,
		AvatarURL: profile.AvatarURL,
		Data:      datatypes.JSON(data),
		CreatedAt: profile.CreatedAt,
		UpdatedAt: profile.UpdatedAt,
	}, nil
}
