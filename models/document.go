package models

import "time"

// Document status values. The status is set by the caller that produced the
// record (upload or extraction); there is no state machine behind it.
const (
	DocStatusIdle       = "idle"
	DocStatusProcessing = "processing"
	DocStatusVerified   = "verified"
	DocStatusRejected   = "rejected"
)

// DocumentRecord is one uploaded document of a given type (e.g. "pan_card")
// belonging to a profile. The binary content lives in external blob storage;
// this record only points at it.
type DocumentRecord struct {
	FileURL     string `json:"fileUrl,omitempty"`
	StoragePath string `json:"storagePath,omitempty"`
	// ExtractedData is whatever the extraction model returned. It is opaque
	// to this system and only validated as JSON at the boundary.
	ExtractedData map[string]any `json:"extractedData,omitempty"`
	Status        string         `json:"status"`
	UploadedAt    time.Time      `json:"uploadedAt"`
	ProcessedAt   *time.Time     `json:"processedAt,omitempty"`
	Error         string         `json:"error,omitempty"`
}
