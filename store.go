package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"sabapplier/models"
)

// ErrNotFound is returned by every ProfileStore backend when no record
// matches; absence of the record signals "not found", never an empty record.
var ErrNotFound = errors.New("profile not found")

// ProfileStore persists UserProfile records keyed by internal user id.
// Exactly one backend is chosen at startup and used for the whole process
// lifetime; the choice is never re-evaluated per call.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
	GetByGoogleID(ctx context.Context, googleID string) (*models.UserProfile, error)
	Create(ctx context.Context, profile *models.UserProfile) error
	Patch(ctx context.Context, id string, patch *models.ProfilePatch) (*models.UserProfile, error)
	Delete(ctx context.Context, id string) error
}

// OpenProfileStore picks the backend: Postgres when DB_DSN is set and
// reachable, otherwise the local JSON file store. The fallback is silent
// beyond a single startup log line.
func OpenProfileStore(cfg Config, log *zap.Logger) (ProfileStore, error) {
	if cfg.DBDSN != "" {
		store, err := newDBStore(cfg.DBDSN, log)
		if err == nil {
			log.Info("profile store: postgres")
			return store, nil
		}
		log.Warn("postgres unavailable, falling back to file store", zap.Error(err))
	}
	log.Info("profile store: local file", zap.String("path", cfg.StoreFile))
	return newFileStore(cfg.StoreFile, log), nil
}

// applyPatch shallow-merges a patch onto a profile in place. Shared by both
// backends so the merge rules cannot drift between them:
//   - only fields present in the patch are written;
//   - documents and professions are replaced wholesale when present (a patch
//     with a partial documents map drops the sibling keys);
//   - onboardingStep never regresses below the stored value;
//   - onboardingComplete never reverts to false once true;
//   - updatedAt is stamped, createdAt is left alone.
func applyPatch(profile *models.UserProfile, patch *models.ProfilePatch) {
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setStr(&profile.Email, patch.Email)
	setStr(&profile.FullName, patch.FullName)
	setStr(&profile.AvatarURL, patch.AvatarURL)
	setStr(&profile.FirstName, patch.FirstName)
	setStr(&profile.MiddleName, patch.MiddleName)
	setStr(&profile.LastName, patch.LastName)
	setStr(&profile.DateOfBirth, patch.DateOfBirth)
	setStr(&profile.Gender, patch.Gender)
	setStr(&profile.Phone, patch.Phone)
	setStr(&profile.AltPhone, patch.AltPhone)
	setStr(&profile.Address, patch.Address)
	setStr(&profile.City, patch.City)
	setStr(&profile.State, patch.State)
	setStr(&profile.Pincode, patch.Pincode)
	setStr(&profile.Category, patch.Category)
	setStr(&profile.Nationality, patch.Nationality)
	setStr(&profile.MaritalStatus, patch.MaritalStatus)

	if patch.OnboardingStep != nil && *patch.OnboardingStep > profile.OnboardingStep {
		profile.OnboardingStep = *patch.OnboardingStep
	}
	if patch.OnboardingComplete != nil && *patch.OnboardingComplete {
		profile.OnboardingComplete = true
	}
	if patch.Professions != nil {
		profile.Professions = patch.Professions
	}
	if patch.Documents != nil {
		profile.Documents = patch.Documents
	}
	profile.UpdatedAt = time.Now().UTC()
}

// normalizeProfile guarantees the always-present collections: a profile has a
// documents map and professions list even when empty.
func normalizeProfile(profile *models.UserProfile) {
	if profile.Professions == nil {
		profile.Professions = []string{}
	}
	if profile.Documents == nil {
		profile.Documents = map[string]models.DocumentRecord{}
	}
}
