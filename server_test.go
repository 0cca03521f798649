package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sabapplier/pkg/blob"
	"sabapplier/pkg/gauth"
)

type fakeVerifier struct {
	identity *gauth.Identity
	err      error
}

func (f *fakeVerifier) VerifyCredential(ctx context.Context, credential string) (*gauth.Identity, error) {
	return f.identity, f.err
}

func (f *fakeVerifier) ExchangeCode(ctx context.Context, code string) (*gauth.Identity, error) {
	return f.identity, f.err
}

type fakeExtractor struct {
	fields map[string]any
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, dataURI, docType string) (map[string]any, error) {
	return f.fields, f.err
}

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func newTestServer(t *testing.T, verifier CredentialVerifier, extractor FieldExtractor, rateMax int) (*gin.Engine, Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := Config{
		Port:            "0",
		JWTSecret:       "test-secret",
		StoreFile:       filepath.Join(dir, "users.json"),
		UploadBase:      filepath.Join(dir, "uploads"),
		PublicBaseURL:   "http://localhost:8081",
		CORSOrigins:     []string{"http://localhost:3000"},
		RateLimitWindow: time.Minute,
		RateLimitMax:    rateMax,
	}
	log := zap.NewNop()
	store := newFileStore(cfg.StoreFile, log)
	blobs, err := blob.Open(context.Background(), blob.Config{
		BaseDir: cfg.UploadBase,
		BaseURL: cfg.PublicBaseURL,
	}, log)
	if err != nil {
		t.Fatalf("blob store init failed: %v", err)
	}
	return newServer(cfg, log, store, verifier, extractor, blobs).routes(), cfg
}

func loginAs(t *testing.T, r http.Handler) (token string, user map[string]any) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"code": "fake-code"})
	resp := performRequest(r, http.MethodPost, "/auth/google/code", bytes.NewReader(body), "", "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var out struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad login response: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("empty token in login response: %s", resp.Body.String())
	}
	return out.Token, out.User
}

func testIdentity() *gauth.Identity {
	return &gauth.Identity{
		SubjectID:   "google-sub-1",
		Email:       "user@example.com",
		DisplayName: "Test User",
		PictureURL:  "https://example.com/p.jpg",
	}
}

func TestHealth(t *testing.T) {
	r, _ := newTestServer(t, &fakeVerifier{identity: testIdentity()}, &fakeExtractor{}, 1000)
	resp := performRequest(r, http.MethodGet, "/health", nil, "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("health failed status=%d", resp.Code)
	}
	if resp.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing: %v", resp.Header())
	}
	if resp.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id not echoed")
	}
}

func TestLoginCreatesProfileExactlyOnce(t *testing.T) {
	verifier := &fakeVerifier{identity: testIdentity()}
	r, _ := newTestServer(t, verifier, &fakeExtractor{}, 1000)

	_, user := loginAs(t, r)
	if user["onboardingComplete"] != false {
		t.Fatalf("new profile should not be onboarded: %v", user)
	}
	if user["onboardingStep"].(float64) != 1 {
		t.Fatalf("new profile should start at step 1: %v", user)
	}
	userID := user["userId"].(string)
	if userID == "" {
		t.Fatalf("missing userId")
	}

	// repeated login: same profile, provider fields refreshed
	verifier.identity.Email = "renamed@example.com"
	_, again := loginAs(t, r)
	if again["userId"].(string) != userID {
		t.Fatalf("second login created a new profile: %v vs %v", again["userId"], userID)
	}
	if again["email"].(string) != "renamed@example.com" {
		t.Fatalf("email not refreshed on login: %v", again["email"])
	}
}

func TestLoginFailure(t *testing.T) {
	r, _ := newTestServer(t, &fakeVerifier{err: errors.New("bad code")}, &fakeExtractor{}, 1000)
	body, _ := json.Marshal(map[string]string{"code": "nope"})
	resp := performRequest(r, http.MethodPost, "/auth/google/code", bytes.NewReader(body), "", "application/json")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestOnboardingFlow(t *testing.T) {
	r, _ := newTestServer(t, &fakeVerifier{identity: testIdentity()}, &fakeExtractor{}, 1000)
	token, user := loginAs(t, r)

	resp := performRequest(r, http.MethodGet, "/profile", nil, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("get profile failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var fetched map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &fetched)
	if fetched["userId"] != user["userId"] {
		t.Fatalf("profile mismatch: %v vs %v", fetched["userId"], user["userId"])
	}

	body, _ := json.Marshal(map[string]any{
		"step":     2,
		"pageData": map[string]string{"firstName": "A"},
	})
	resp = performRequest(r, http.MethodPost, "/profile/onboard", bytes.NewReader(body), token, "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("onboard failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var updated map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &updated)
	if updated["onboardingStep"].(float64) != 2 {
		t.Fatalf("step not advanced: %v", updated["onboardingStep"])
	}
	if updated["firstName"] != "A" {
		t.Fatalf("pageData not merged: %v", updated["firstName"])
	}

	// a stale wizard page cannot move the step backwards
	body, _ = json.Marshal(map[string]any{"step": 1})
	resp = performRequest(r, http.MethodPost, "/profile/onboard", bytes.NewReader(body), token, "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("onboard failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &updated)
	if updated["onboardingStep"].(float64) != 2 {
		t.Fatalf("step regressed: %v", updated["onboardingStep"])
	}
	if updated["firstName"] != "A" {
		t.Fatalf("earlier pageData lost: %v", updated)
	}
}

func TestPatchProfileRejectsUnknownFields(t *testing.T) {
	r, _ := newTestServer(t, &fakeVerifier{identity: testIdentity()}, &fakeExtractor{}, 1000)
	token, _ := loginAs(t, r)
	resp := performRequest(r, http.MethodPost, "/profile",
		bytes.NewReader([]byte(`{"notAField":"x"}`)), token, "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func uploadDocument(t *testing.T, r http.Handler, token, docType, filename string) map[string]any {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	_ = mw.WriteField("docType", docType)
	w, _ := mw.CreateFormFile("file", filename)
	_, _ = w.Write([]byte("FAKE DOCUMENT CONTENT"))
	_ = mw.Close()
	resp := performRequest(r, http.MethodPost, "/vault/upload", buf, token, mw.FormDataContentType())
	if resp.Code != http.StatusOK {
		t.Fatalf("upload failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var out map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	return out
}

func TestVaultUploadThenProcess(t *testing.T) {
	extractor := &fakeExtractor{fields: map[string]any{"name": "A", "pan_number": "ABCDE1234F"}}
	r, _ := newTestServer(t, &fakeVerifier{identity: testIdentity()}, extractor, 1000)
	token, _ := loginAs(t, r)

	uploaded := uploadDocument(t, r, token, "pan_card", "pan.jpg")
	if uploaded["fileUrl"] == "" || uploaded["storagePath"] == "" {
		t.Fatalf("upload returned no locator: %v", uploaded)
	}

	dataURI := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("scan"))
	body, _ := json.Marshal(map[string]string{"docType": "pan_card", "dataUri": dataURI})
	resp := performRequest(r, http.MethodPost, "/vault/process", bytes.NewReader(body), token, "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("process failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var out struct {
		Document map[string]any `json:"document"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	if out.Document["status"] != "verified" {
		t.Fatalf("expected verified, got %v", out.Document["status"])
	}
	if out.Document["fileUrl"] != uploaded["fileUrl"] {
		t.Fatalf("fileUrl not preserved across process: %v vs %v", out.Document["fileUrl"], uploaded["fileUrl"])
	}
	extracted, _ := out.Document["extractedData"].(map[string]any)
	if extracted["pan_number"] != "ABCDE1234F" {
		t.Fatalf("extracted data missing: %v", out.Document)
	}
}

func TestVaultProcessFailureKeepsUpload(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("model unavailable")}
	r, _ := newTestServer(t, &fakeVerifier{identity: testIdentity()}, extractor, 1000)
	token, _ := loginAs(t, r)

	uploaded := uploadDocument(t, r, token, "pan_card", "pan.jpg")

	dataURI := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("scan"))
	body, _ := json.Marshal(map[string]string{"docType": "pan_card", "dataUri": dataURI})
	resp := performRequest(r, http.MethodPost, "/vault/process", bytes.NewReader(body), token, "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("process should persist a rejected record, got status=%d body=%s", resp.Code, resp.Body.String())
	}
	var out struct {
		Document map[string]any `json:"document"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	if out.Document["status"] != "rejected" || out.Document["error"] != "processing_failed" {
		t.Fatalf("expected rejected/processing_failed, got %v", out.Document)
	}
	if out.Document["fileUrl"] != uploaded["fileUrl"] {
		t.Fatalf("fileUrl lost on failure: %v", out.Document)
	}
	if _, has := out.Document["extractedData"]; has {
		t.Fatalf("rejected record should carry no extracted data: %v", out.Document)
	}
}

func TestVaultRejectsPathTraversal(t *testing.T) {
	r, cfg := newTestServer(t, &fakeVerifier{identity: testIdentity()}, &fakeExtractor{fields: map[string]any{}}, 1000)
	token, _ := loginAs(t, r)

	// docType is embedded in the storage path, so it must stay a plain key
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	_ = mw.WriteField("docType", "../../../pwned")
	w, _ := mw.CreateFormFile("file", "evil.txt")
	_, _ = w.Write([]byte("x"))
	_ = mw.Close()
	resp := performRequest(r, http.MethodPost, "/vault/upload", buf, token, mw.FormDataContentType())
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal docType, got %d body=%s", resp.Code, resp.Body.String())
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(cfg.UploadBase), "pwned")); !os.IsNotExist(err) {
		t.Fatalf("upload escaped the base directory: %v", err)
	}

	// a client-supplied storagePath is persisted and later replayed into
	// blob deletion, so escaping locators are rejected up front
	dataURI := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("scan"))
	for _, bad := range []string{"../victim.txt", "/etc/passwd", "users/../../victim"} {
		body, _ := json.Marshal(map[string]string{"docType": "pan_card", "dataUri": dataURI, "storagePath": bad})
		resp = performRequest(r, http.MethodPost, "/vault/process", bytes.NewReader(body), token, "application/json")
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for storagePath %q, got %d body=%s", bad, resp.Code, resp.Body.String())
		}
	}

	// a slash-bearing docType never becomes a documents key either
	body, _ := json.Marshal(map[string]string{"docType": "a/b", "dataUri": dataURI})
	resp = performRequest(r, http.MethodPost, "/vault/process", bytes.NewReader(body), token, "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal docType on process, got %d", resp.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r, _ := newTestServer(t, &fakeVerifier{identity: testIdentity()}, &fakeExtractor{}, 1000)
	resp := performRequest(r, http.MethodGet, "/profile", nil, "", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodGet, "/profile", nil, "garbage.token.here", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.Code)
	}
}

func TestRateLimitOverHTTP(t *testing.T) {
	r, _ := newTestServer(t, &fakeVerifier{identity: testIdentity()}, &fakeExtractor{}, 3)
	for i := 0; i < 3; i++ {
		if resp := performRequest(r, http.MethodGet, "/health", nil, "", ""); resp.Code != http.StatusOK {
			t.Fatalf("request %d rejected inside the limit: %d", i+1, resp.Code)
		}
	}
	resp := performRequest(r, http.MethodGet, "/health", nil, "", "")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over the limit, got %d", resp.Code)
	}
}

func TestDeleteProfile(t *testing.T) {
	r, cfg := newTestServer(t, &fakeVerifier{identity: testIdentity()}, &fakeExtractor{fields: map[string]any{}}, 1000)
	token, _ := loginAs(t, r)
	uploaded := uploadDocument(t, r, token, "pan_card", "pan.jpg")

	resp := performRequest(r, http.MethodDelete, "/profile", nil, token, "")
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	// the record is gone even though the token is still valid until expiry
	resp = performRequest(r, http.MethodGet, "/profile", nil, token, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
	// the stored blob was cleaned up
	storagePath, _ := uploaded["storagePath"].(string)
	if _, err := os.Stat(filepath.Join(cfg.UploadBase, filepath.FromSlash(storagePath))); !os.IsNotExist(err) {
		t.Fatalf("blob survived account deletion: %v", err)
	}
}
