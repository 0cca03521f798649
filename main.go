package main

import (
	"context"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"sabapplier/pkg/blob"
	"sabapplier/pkg/extract"
	"sabapplier/pkg/gauth"
)

func main() {
	// Auto-load ./.env if present before reading vars; already-set variables win.
	_ = godotenv.Load()
	cfg := loadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	store, err := OpenProfileStore(cfg, logger)
	if err != nil {
		logger.Fatal("profile store init failed", zap.Error(err))
	}

	blobs, err := blob.Open(ctx, blob.Config{
		S3Bucket: cfg.S3Bucket,
		BaseDir:  cfg.UploadBase,
		BaseURL:  cfg.PublicBaseURL,
	}, logger)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	verifier := gauth.New(gauth.Config{
		ClientID:        cfg.GoogleClientID,
		ClientSecret:    cfg.GoogleClientSecret,
		AllowUnverified: cfg.AllowUnverifiedGoogle,
	}, logger)
	if cfg.AllowUnverifiedGoogle {
		logger.Warn("GOOGLE_ALLOW_UNVERIFIED is set; id tokens may be accepted without signature verification")
	}

	var extractor FieldExtractor
	if cfg.GeminiAPIKey != "" {
		gemini, err := extract.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Fatal("extractor init failed", zap.Error(err))
		}
		extractor = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set; document extraction requests will be rejected")
		extractor = extract.Disabled{}
	}

	srv := newServer(cfg, logger, store, verifier, extractor, blobs)
	if err := srv.routes().Run(":" + cfg.Port); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
