// Package recognizer extracts transaction candidates from payment app
// screenshots and bank statements using Google Gemini vision models.
package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
)

// Gemini implements the Recognizer interface using Google Gemini
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a new Gemini recognizer instance
func NewGemini(apiKey string, modelName string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

// Ensure Gemini implements the Recognizer interface
var _ portssvc.Recognizer = (*Gemini)(nil)

// geminiResponse is the JSON document the prompt instructs the model to emit.
type geminiResponse struct {
	App          string             `json:"app"`
	Transactions []domain.Candidate `json:"transactions"`
}

// Interpret analyzes the image and returns the candidates it found.
func (g *Gemini) Interpret(ctx context.Context, image []byte, mimeType string, hint *domain.PaymentApp) (*portssvc.RecognitionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts := []genai.Part{
		genai.ImageData(imageFormat(mimeType), image),
		genai.Text(buildPrompt(hint)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	parsed, err := parseResponseJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing recognizer output: %w", err)
	}

	result := &portssvc.RecognitionResult{
		Candidates: validateCandidates(parsed.Transactions, hint),
	}
	if app, ok := domain.ParsePaymentApp(parsed.App); ok {
		result.DetectedApp = &app
	} else if hint != nil {
		result.DetectedApp = hint
	}
	return result, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// imageFormat maps a MIME type to the format suffix genai.ImageData expects.
func imageFormat(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpeg"
	}
}

// parseResponseJSON tolerates the markdown fences and leading prose models
// like to wrap their JSON in.
func parseResponseJSON(raw string) (*geminiResponse, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if start := strings.Index(text, "{"); start > 0 {
		text = text[start:]
	}
	if end := strings.LastIndex(text, "}"); end >= 0 && end < len(text)-1 {
		text = text[:end+1]
	}

	var parsed geminiResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// validateCandidates normalizes and flags each extracted row. Invalid rows
// are kept (the reviewer sees what the model saw) but marked unusable.
func validateCandidates(candidates []domain.Candidate, hint *domain.PaymentApp) []domain.Candidate {
	out := make([]domain.Candidate, len(candidates))
	for i, c := range candidates {
		if c.Quantity <= 0 {
			c.Quantity = 1
		}
		if c.Total.IsZero() && !c.Price.IsZero() {
			c.Total = c.Price.Mul(decimal.NewFromInt(int64(c.Quantity)))
		}
		if c.TransactionType == "" {
			c.TransactionType = domain.TypeExpense
		}
		if _, ok := domain.ParsePaymentApp(string(c.Payment)); !ok && hint != nil {
			c.Payment = *hint
		}
		if c.ForwardedFromApp != nil {
			if _, ok := domain.ParsePaymentApp(string(*c.ForwardedFromApp)); !ok {
				c.ForwardedFromApp = nil
			}
		}

		c.IsValid = candidateValid(c)
		if c.Status == "" {
			if c.IsValid {
				c.Status = "recognized"
			} else {
				c.Status = "unreadable"
			}
		}
		out[i] = c
	}
	return out
}

func candidateValid(c domain.Candidate) bool {
	if _, err := time.Parse("2006-01-02", c.Date); err != nil {
		return false
	}
	if !c.Total.IsPositive() {
		return false
	}
	_, ok := domain.ParsePaymentApp(string(c.Payment))
	return ok
}
