package main

import (
	"context"
	"time"

	"sabapplier/models"
)

// DocumentIntake merges one document record into a profile's documents map.
// Unlike a raw patch, which replaces the whole map, intake reads the current
// map, merges the single key and patches with the full map, so sibling
// document types survive vault operations.
type DocumentIntake struct {
	store ProfileStore
}

// Attach writes rec under docType for the given user. When a record already
// exists for that key, its uploadedAt (and file pointers, when the incoming
// record lacks them) carries over — a failed re-extraction keeps the original
// upload intact.
func (di DocumentIntake) Attach(ctx context.Context, userID, docType string, rec models.DocumentRecord) (*models.UserProfile, error) {
	profile, err := di.store.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs := make(map[string]models.DocumentRecord, len(profile.Documents)+1)
	for k, v := range profile.Documents {
		docs[k] = v
	}
	if prev, ok := docs[docType]; ok {
		if rec.UploadedAt.IsZero() {
			rec.UploadedAt = prev.UploadedAt
		}
		if rec.FileURL == "" {
			rec.FileURL = prev.FileURL
		}
		if rec.StoragePath == "" {
			rec.StoragePath = prev.StoragePath
		}
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now().UTC()
	}
	docs[docType] = rec
	return di.store.Patch(ctx, userID, &models.ProfilePatch{Documents: docs})
}
