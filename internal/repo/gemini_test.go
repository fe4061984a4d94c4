package repo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-audit/internal/utils"
)

func newTestGemini(rt roundTripFunc) *GeminiClient {
	client := NewGeminiClient(GeminiConfig{
		BaseURL:     "https://llm.test/",
		APIKey:      "secret-key",
		Model:       "gemini-test",
		Temperature: 0.1,
	}, nil)
	client.httpClient = newTestClient(rt)
	return client
}

func TestGenerateContentBuildsRequest(t *testing.T) {
	client := newTestGemini(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1beta/models/gemini-test:generateContent" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if req.URL.RawQuery != "" {
			t.Fatalf("credentials must not travel in the query: %s", req.URL.RawQuery)
		}
		if got := req.Header.Get("x-goog-api-key"); got != "secret-key" {
			t.Fatalf("expected api key header, got %q", got)
		}

		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if _, ok := payload["key"]; ok {
			t.Fatalf("credentials must not travel in the body")
		}
		cfg := payload["generationConfig"].(map[string]any)
		if cfg["responseMimeType"] != "application/json" {
			t.Fatalf("expected json response mode, got %v", cfg["responseMimeType"])
		}
		if cfg["temperature"].(float64) > 0.2 {
			t.Fatalf("expected low temperature, got %v", cfg["temperature"])
		}
		contents := payload["contents"].([]any)
		if len(contents) != 1 {
			t.Fatalf("expected a single user turn, got %d", len(contents))
		}
		sys := payload["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"]
		if sys != "system" {
			t.Fatalf("unexpected system instruction %v", sys)
		}

		return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"{\"ok\":true}"}]}}]}`), nil
	})

	text, err := client.GenerateContent(context.Background(), "system", "user prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != `{"ok":true}` {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestGenerateContentMissingKey(t *testing.T) {
	client := NewGeminiClient(GeminiConfig{Model: "gemini-test"}, nil)
	_, err := client.GenerateContent(context.Background(), "system", "user")
	if utils.KindOf(err) != utils.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGenerateContentStatusNeverLeaksBody(t *testing.T) {
	body := `{"error":{"message":"` + strings.Repeat("secret ", 200) + `"}}`
	client := newTestGemini(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, body), nil
	})

	_, err := client.GenerateContent(context.Background(), "system", "user")
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Kind != utils.KindTransport || appErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected error %+v", appErr)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("response body leaked into error: %v", err)
	}
	if !appErr.Retryable() {
		t.Fatalf("429 should be retryable")
	}
}

func TestGenerateContentMalformedEnvelopes(t *testing.T) {
	cases := map[string]string{
		"no candidates": `{"candidates":[]}`,
		"no parts":      `{"candidates":[{"content":{"parts":[]}}]}`,
		"no text":       `{"candidates":[{"content":{"parts":[{"inlineData":{}}]}}]}`,
		"blocked":       `{"promptFeedback":{"blockReason":"SAFETY"}}`,
		"not json":      `<html>gateway</html>`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestGemini(func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, body), nil
			})
			_, err := client.GenerateContent(context.Background(), "system", "user")
			if utils.KindOf(err) != utils.KindMalformedResponse {
				t.Fatalf("expected malformed response error, got %v", err)
			}
		})
	}
}

func TestGenerateContentResponseLimit(t *testing.T) {
	client := newTestGemini(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, strings.Repeat("x", 64)), nil
	})
	client.maxResponseBytes = 16

	_, err := client.GenerateContent(context.Background(), "system", "user")
	if utils.KindOf(err) != utils.KindMalformedResponse {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestGenerateContentTransportFailureKeepsCause(t *testing.T) {
	client := newTestGemini(func(req *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})

	_, err := client.GenerateContent(context.Background(), "system", "user")
	if utils.KindOf(err) != utils.KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to unwrap, got %v", err)
	}
	if strings.Contains(err.Error(), "llm.test") {
		t.Fatalf("endpoint leaked into error: %v", err)
	}
}

func TestGenerateContentDeadlineComesFromContext(t *testing.T) {
	client := NewGeminiClient(GeminiConfig{APIKey: "secret-key", Model: "gemini-test"}, nil)
	if client.httpClient.Timeout != 0 {
		t.Fatalf("client must not impose its own timeout, got %v", client.httpClient.Timeout)
	}

	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GenerateContent(ctx, "system", "user")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the context deadline to end the call, got %v", err)
	}
}
