package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"sabapplier/models"
)

// fileStore is the development fallback backend: one JSON object keyed by
// userId, read and rewritten wholesale on every mutation. There is no file
// locking; two concurrent patches to the same user can lose one update.
// Acceptable for single-process dev use only.
type fileStore struct {
	path string
	log  *zap.Logger
}

func newFileStore(path string, log *zap.Logger) *fileStore {
	return &fileStore{path: path, log: log}
}

func (s *fileStore) load() (map[string]*models.UserProfile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*models.UserProfile{}, nil
		}
		return nil, err
	}
	users := map[string]*models.UserProfile{}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *fileStore) save(users map[string]*models.UserProfile) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *fileStore) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	users, err := s.load()
	if err != nil {
		return nil, err
	}
	profile, ok := users[id]
	if !ok {
		return nil, ErrNotFound
	}
	normalizeProfile(profile)
	return profile, nil
}

// GetByGoogleID also accepts a direct userId match when no googleId matches,
// for records created before google ids were stored.
func (s *fileStore) GetByGoogleID(ctx context.Context, googleID string) (*models.UserProfile, error) {
	users, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, profile := range users {
		if profile.GoogleID == googleID {
			normalizeProfile(profile)
			return profile, nil
		}
	}
	if profile, ok := users[googleID]; ok {
		normalizeProfile(profile)
		return profile, nil
	}
	return nil, ErrNotFound
}

func (s *fileStore) Create(ctx context.Context, profile *models.UserProfile) error {
	users, err := s.load()
	if err != nil {
		return err
	}
	normalizeProfile(profile)
	users[profile.UserID] = profile
	return s.save(users)
}

func (s *fileStore) Patch(ctx context.Context, id string, patch *models.ProfilePatch) (*models.UserProfile, error) {
	users, err := s.load()
	if err != nil {
		return nil, err
	}
	profile, ok := users[id]
	if !ok {
		return nil, ErrNotFound
	}
	normalizeProfile(profile)
	applyPatch(profile, patch)
	users[id] = profile
	if err := s.save(users); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	users, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := users[id]; !ok {
		return ErrNotFound
	}
	delete(users, id)
	return s.save(users)
}
