package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sabapplier/models"
	"sabapplier/pkg/blob"
	"sabapplier/pkg/gauth"
)

const maxUploadBytes = 10 * 1024 * 1024

// CredentialVerifier resolves Google sign-in material into an identity.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, credential string) (*gauth.Identity, error)
	ExchangeCode(ctx context.Context, code string) (*gauth.Identity, error)
}

// FieldExtractor turns a data-URI document into an opaque field map.
type FieldExtractor interface {
	Extract(ctx context.Context, dataURI, docType string) (map[string]any, error)
}

type server struct {
	cfg       Config
	log       *zap.Logger
	store     ProfileStore
	tokens    TokenService
	verifier  CredentialVerifier
	extractor FieldExtractor
	blobs     blob.Store
	intake    DocumentIntake
	limiter   *rateLimiter
}

func newServer(cfg Config, log *zap.Logger, store ProfileStore, verifier CredentialVerifier, extractor FieldExtractor, blobs blob.Store) *server {
	return &server{
		cfg:       cfg,
		log:       log,
		store:     store,
		tokens:    NewTokenService([]byte(cfg.JWTSecret)),
		verifier:  verifier,
		extractor: extractor,
		blobs:     blobs,
		intake:    DocumentIntake{store: store},
		limiter:   newRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
	}
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(securityHeadersMiddleware())
	r.Use(s.limiter.middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	r.Use(s.recoveryMiddleware())

	r.GET("/health", healthHandler)
	r.POST("/auth/google", s.loginWithCredentialHandler)
	r.POST("/auth/google/code", s.loginWithCodeHandler)
	if s.cfg.S3Bucket == "" {
		// the local blob store serves its own downloads
		r.Static("/files", s.cfg.UploadBase)
	}

	authGroup := r.Group("")
	authGroup.Use(s.authMiddleware())
	authGroup.GET("/profile", s.getProfileHandler)
	authGroup.POST("/profile", s.patchProfileHandler)
	authGroup.POST("/profile/onboard", s.onboardHandler)
	authGroup.DELETE("/profile", s.deleteProfileHandler)
	authGroup.POST("/vault/process", s.vaultProcessHandler)
	authGroup.POST("/vault/upload", s.vaultUploadHandler)
	return r
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) loginWithCredentialHandler(c *gin.Context) {
	var req struct {
		Credential string `json:"credential" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	identity, err := s.verifier.VerifyCredential(c.Request.Context(), req.Credential)
	if err != nil {
		s.log.Info("credential verification failed", zap.Error(err), zap.String("request_id", requestID(c)))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid google credential"})
		return
	}
	s.loginIdentity(c, identity)
}

func (s *server) loginWithCodeHandler(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	identity, err := s.verifier.ExchangeCode(c.Request.Context(), req.Code)
	if err != nil {
		if errors.Is(err, gauth.ErrNotConfigured) {
			s.serverError(c, "code exchange requested without client credentials", err)
			return
		}
		s.log.Info("code exchange failed", zap.Error(err), zap.String("request_id", requestID(c)))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "google sign-in failed"})
		return
	}
	s.loginIdentity(c, identity)
}

// loginIdentity creates the profile on first login and refreshes only the
// identity-provider fields on every later login.
func (s *server) loginIdentity(c *gin.Context, identity *gauth.Identity) {
	ctx := c.Request.Context()
	profile, err := s.store.GetByGoogleID(ctx, identity.SubjectID)
	switch {
	case err == nil:
		patch := &models.ProfilePatch{
			Email:    &identity.Email,
			FullName: &identity.DisplayName,
		}
		if identity.PictureURL != "" {
			patch.AvatarURL = &identity.PictureURL
		}
		profile, err = s.store.Patch(ctx, profile.UserID, patch)
		if err != nil {
			s.serverError(c, "login patch failed", err)
			return
		}
	case errors.Is(err, ErrNotFound):
		now := time.Now().UTC()
		profile = &models.UserProfile{
			UserID:         uuid.NewString(),
			GoogleID:       identity.SubjectID,
			Email:          identity.Email,
			FullName:       identity.DisplayName,
			AvatarURL:      identity.PictureURL,
			OnboardingStep: 1,
			Professions:    []string{},
			Documents:      map[string]models.DocumentRecord{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.store.Create(ctx, profile); err != nil {
			s.serverError(c, "profile create failed", err)
			return
		}
	default:
		s.serverError(c, "login lookup failed", err)
		return
	}
	token, err := s.tokens.Issue(profile.UserID, profile.Email)
	if err != nil {
		s.serverError(c, "token issue failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": profile})
}

func (s *server) getProfileHandler(c *gin.Context) {
	profile, err := s.store.GetByID(c.Request.Context(), c.GetString("userId"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *server) patchProfileHandler(c *gin.Context) {
	patch, err := bindPatchStrict(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	profile, err := s.store.Patch(c.Request.Context(), c.GetString("userId"), patch)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *server) onboardHandler(c *gin.Context) {
	var req struct {
		Step     int             `json:"step" binding:"required"`
		Complete *bool           `json:"complete"`
		PageData json.RawMessage `json:"pageData"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch := &models.ProfilePatch{}
	if len(req.PageData) > 0 {
		var err error
		if patch, err = bindPatchStrict(bytes.NewReader(req.PageData)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("pageData: %s", err)})
			return
		}
	}
	patch.OnboardingStep = &req.Step
	patch.OnboardingComplete = req.Complete
	profile, err := s.store.Patch(c.Request.Context(), c.GetString("userId"), patch)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *server) deleteProfileHandler(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString("userId")
	profile, err := s.store.GetByID(ctx, userID)
	if err != nil {
		s.storeError(c, err)
		return
	}
	// best-effort blob cleanup before the record goes away
	for docType, doc := range profile.Documents {
		if doc.StoragePath == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, doc.StoragePath); err != nil {
			s.log.Warn("blob delete failed",
				zap.String("doc_type", docType),
				zap.String("storage_path", doc.StoragePath),
				zap.Error(err))
		}
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		s.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) vaultProcessHandler(c *gin.Context) {
	var req struct {
		DocType     string `json:"docType" binding:"required"`
		DataURI     string `json:"dataUri" binding:"required"`
		FileURL     string `json:"fileUrl"`
		StoragePath string `json:"storagePath"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validDocType(req.DocType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid docType"})
		return
	}
	// the storage path is persisted and later replayed into blob deletion,
	// so it must not be able to address anything outside the store
	if req.StoragePath != "" && !safeStoragePath(req.StoragePath) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid storagePath"})
		return
	}
	ctx := c.Request.Context()
	now := time.Now().UTC()
	rec := models.DocumentRecord{
		FileURL:     req.FileURL,
		StoragePath: req.StoragePath,
		ProcessedAt: &now,
	}
	fields, err := s.extractor.Extract(ctx, req.DataURI, req.DocType)
	if err != nil {
		// keep the upload: persist a rejected record instead of failing the call
		s.log.Warn("extraction failed",
			zap.String("doc_type", req.DocType),
			zap.String("request_id", requestID(c)),
			zap.Error(err))
		rec.Status = models.DocStatusRejected
		rec.Error = "processing_failed"
	} else {
		rec.Status = models.DocStatusVerified
		rec.ExtractedData = fields
	}
	profile, err := s.intake.Attach(ctx, c.GetString("userId"), req.DocType, rec)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": profile.Documents[req.DocType], "user": profile})
}

func (s *server) vaultUploadHandler(c *gin.Context) {
	docType := c.PostForm("docType")
	if !validDocType(docType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "docType missing or invalid"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large (max 10MB)"})
		return
	}
	src, err := file.Open()
	if err != nil {
		s.serverError(c, "upload open failed", err)
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		s.serverError(c, "upload read failed", err)
		return
	}
	ctx := c.Request.Context()
	userID := c.GetString("userId")
	storagePath := fmt.Sprintf("users/%s/%s/%s", userID, docType, file.Filename)
	fileURL, err := s.blobs.Put(ctx, storagePath, data, file.Header.Get("Content-Type"))
	if err != nil {
		s.serverError(c, "blob store failed", err)
		return
	}
	rec := models.DocumentRecord{
		FileURL:     fileURL,
		StoragePath: storagePath,
		Status:      models.DocStatusProcessing,
		UploadedAt:  time.Now().UTC(),
	}
	if _, err := s.intake.Attach(ctx, userID, docType, rec); err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fileUrl": fileURL, "storagePath": storagePath, "docType": docType})
}

// storeError maps store failures onto the HTTP surface: unknown user is a
// 404, anything else a generic 500 with detail in the server log only.
func (s *server) storeError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	s.serverError(c, "store operation failed", err)
}

func (s *server) serverError(c *gin.Context, msg string, err error) {
	s.log.Error(msg, zap.Error(err), zap.String("request_id", requestID(c)))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// validDocType accepts plain document-type keys ("pan_card"); anything that
// could act as a path segment is rejected before it reaches blob storage.
func validDocType(docType string) bool {
	return docType != "" &&
		!strings.ContainsAny(docType, "/\\") &&
		!strings.Contains(docType, "..")
}

// safeStoragePath accepts relative storage locators that stay inside the
// blob store ("users/u1/pan_card/pan.jpg").
func safeStoragePath(p string) bool {
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	cleaned := path.Clean(p)
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

// bindPatchStrict decodes a merge-patch body, rejecting unknown fields so a
// typo cannot silently become a dropped update.
func bindPatchStrict(r io.Reader) (*models.ProfilePatch, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	patch := &models.ProfilePatch{}
	if err := dec.Decode(patch); err != nil {
		return nil, err
	}
	return patch, nil
}
