// Package extract turns an uploaded document into a flat set of form fields
// using the Gemini API. The prompt/model details are intentionally thin: the
// rest of the system treats extraction as an opaque document -> fields call.
package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

// ErrDisabled is returned by Disabled for every extraction attempt.
var ErrDisabled = errors.New("document extraction is not configured")

// Gemini extracts structured fields from documents with a Gemini model,
// asking for a JSON-mode response.
type Gemini struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, log *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model, log: log}, nil
}

// Extract sends the document bytes plus a per-docType instruction and
// unmarshals the model's JSON answer into an opaque field map.
func (g *Gemini) Extract(ctx context.Context, dataURI, docType string) (map[string]any, error) {
	mimeType, data, err := DecodeDataURI(dataURI)
	if err != nil {
		return nil, err
	}
	data, mimeType = shrinkImage(data, mimeType)

	prompt := fmt.Sprintf(
		"Extract every identity field visible on this %s document. "+
			"Respond with a single flat JSON object mapping snake_case field names to string values. "+
			"Omit fields you cannot read.",
		strings.ReplaceAll(docType, "_", " "))
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, errors.New("model returned an empty response")
	}
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("model returned non-JSON response: %w", err)
	}
	g.log.Debug("extraction complete", zap.String("doc_type", docType), zap.Int("fields", len(fields)))
	return fields, nil
}

// Disabled stands in when no API key is configured; every call fails, so
// uploads still persist with a rejected document record.
type Disabled struct{}

func (Disabled) Extract(ctx context.Context, dataURI, docType string) (map[string]any, error) {
	return nil, ErrDisabled
}

// DecodeDataURI splits "data:<mime>;base64,<payload>" into its MIME type and
// decoded bytes.
func DecodeDataURI(dataURI string) (string, []byte, error) {
	if !strings.HasPrefix(dataURI, "data:") {
		return "", nil, errors.New("not a data URI")
	}
	meta, payload, ok := strings.Cut(dataURI[len("data:"):], ",")
	if !ok {
		return "", nil, errors.New("malformed data URI")
	}
	mimeType, _, _ := strings.Cut(meta, ";")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if !strings.Contains(meta, "base64") {
		return "", nil, errors.New("data URI must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("undecodable data URI payload: %w", err)
	}
	return mimeType, data, nil
}
