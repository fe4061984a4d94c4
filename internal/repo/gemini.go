package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/miradorstack/mirador-audit/internal/utils"
)

const (
	defaultGeminiBaseURL    = "https://generativelanguage.googleapis.com"
	defaultMaxResponseBytes = 4 << 20
	geminiAPIKeyHeader      = "x-goog-api-key"
	geminiResponseMIMEType  = "application/json"
	opGenerateContent       = "gemini.generateContent"
)

// GeminiConfig holds the immutable settings of a GeminiClient.
type GeminiConfig struct {
	BaseURL          string
	APIKey           string
	Model            string
	Temperature      float64
	MaxOutputTokens  int
	MaxResponseBytes int64
}

// GeminiClient calls the generateContent endpoint. It holds no per-request
// state and is safe for concurrent use.
type GeminiClient struct {
	baseURL          string
	apiKey           string
	model            string
	temperature      float64
	maxOutputTokens  int
	maxResponseBytes int64
	httpClient       *http.Client
	logger           *slog.Logger
}

// NewGeminiClient constructs a client for the configured model.
func NewGeminiClient(cfg GeminiConfig, logger *slog.Logger) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	return &GeminiClient{
		baseURL:          baseURL,
		apiKey:           strings.TrimSpace(cfg.APIKey),
		model:            strings.TrimSpace(cfg.Model),
		temperature:      cfg.Temperature,
		maxOutputTokens:  cfg.MaxOutputTokens,
		maxResponseBytes: maxBytes,
		// Deadlines come from the caller's context, one per agent call.
		httpClient: &http.Client{},
		logger: logger,
	}
}

// Model returns the configured model identifier.
func (c *GeminiClient) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Ready reports a configuration error when the client cannot make calls.
func (c *GeminiClient) Ready() error {
	if c == nil {
		return utils.NewKindError(utils.KindConfiguration, opGenerateContent, "client not initialised", nil)
	}
	if c.apiKey == "" {
		return utils.NewKindError(utils.KindConfiguration, opGenerateContent, "api key not configured", nil)
	}
	if c.model == "" {
		return utils.NewKindError(utils.KindConfiguration, opGenerateContent, "model not configured", nil)
	}
	return nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction geminiContent          `json:"systemInstruction"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// GenerateContent sends one system instruction and one user turn and returns
// the text of the first candidate part.
func (c *GeminiClient) GenerateContent(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}

	payload := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: systemInstruction}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: userPrompt}}}},
		GenerationConfig: geminiGenerationConfig{
			ResponseMIMEType: geminiResponseMIMEType,
			Temperature:      c.temperature,
			MaxOutputTokens:  c.maxOutputTokens,
		},
	}

	var envelope geminiResponse
	if err := c.postJSON(ctx, c.generateURL(), payload, &envelope); err != nil {
		return "", err
	}

	if envelope.PromptFeedback != nil && envelope.PromptFeedback.BlockReason != "" {
		return "", utils.NewKindError(utils.KindMalformedResponse, opGenerateContent,
			"prompt blocked: "+utils.Preview(envelope.PromptFeedback.BlockReason, 64), nil)
	}
	if len(envelope.Candidates) == 0 {
		return "", utils.NewKindError(utils.KindMalformedResponse, opGenerateContent, "no candidates in response", nil)
	}
	candidate := envelope.Candidates[0]
	if len(candidate.Content.Parts) == 0 || candidate.Content.Parts[0].Text == nil {
		return "", utils.NewKindError(utils.KindMalformedResponse, opGenerateContent,
			"candidate has no text part (finish reason "+utils.Preview(candidate.FinishReason, 32)+")", nil)
	}
	if candidate.FinishReason == "MAX_TOKENS" {
		c.logger.Warn("gemini output truncated at token limit", slog.String("model", c.model))
	}
	return *candidate.Content.Parts[0].Text, nil
}

func (c *GeminiClient) generateURL() string {
	return c.resolvePath("/v1beta/models/" + c.model + ":generateContent")
}

func (c *GeminiClient) resolvePath(p string) string {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + p
	}
	base.Path = path.Join(base.Path, p)
	return base.String()
}

func (c *GeminiClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(opGenerateContent, "marshal payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return utils.NewKindError(utils.KindConfiguration, opGenerateContent, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(geminiAPIKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewTransportError(opGenerateContent, 0, stripURL(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return utils.NewTransportError(opGenerateContent, 0, stripURL(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("gemini returned non-success status",
			slog.Int("status", resp.StatusCode),
			slog.String("body_preview", utils.Preview(string(data), 0)),
		)
		return utils.NewTransportError(opGenerateContent, resp.StatusCode, nil)
	}
	if int64(len(data)) > c.maxResponseBytes {
		return utils.NewKindError(utils.KindMalformedResponse, opGenerateContent,
			fmt.Sprintf("response exceeds %d bytes", c.maxResponseBytes), nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return utils.NewKindError(utils.KindMalformedResponse, opGenerateContent,
			"decode envelope: "+utils.Preview(string(data), 0), nil)
	}
	return nil
}

// stripURL drops the request URL from transport errors so the endpoint never
// leaks into diagnostics.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
