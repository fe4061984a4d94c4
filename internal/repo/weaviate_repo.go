package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-audit/internal/cache"
	"github.com/miradorstack/mirador-audit/internal/corpus"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

const exampleClass = "VulnerabilityExample"

// ExampleRepo reads labelled classification examples stored in Weaviate.
type ExampleRepo struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cache      cache.Provider
	ttl        time.Duration
}

// NewExampleRepo constructs a Weaviate client. An empty endpoint disables it.
func NewExampleRepo(endpoint, apiKey string, timeout time.Duration, cacheProvider cache.Provider, ttl time.Duration) *ExampleRepo {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if ttl < 0 {
		ttl = 0
	}
	return &ExampleRepo{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		ttl:        ttl,
	}
}

// Enabled reports whether an endpoint is configured.
func (r *ExampleRepo) Enabled() bool {
	return r != nil && r.endpoint != ""
}

// FetchExamples returns up to limit stored examples. It returns nothing when
// no endpoint is configured.
func (r *ExampleRepo) FetchExamples(ctx context.Context, limit int) ([]corpus.Example, error) {
	if !r.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	cacheKey := ""
	if r.ttl > 0 {
		cacheKey = cacheExamplesKey(limit)
		if data, err := r.cache.Get(ctx, cacheKey); err == nil {
			var cached []corpus.Example
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	gql := map[string]interface{}{
		"query": fmt.Sprintf(`{
          Get {
            %s(limit: %d) {
              title
              severity
              tags
              category
              rationale
            }
          }
        }`, exampleClass, limit),
	}
	body, err := json.Marshal(gql)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, utils.NewKindError(utils.KindConfiguration, "weaviate.examples", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, utils.NewTransportError("weaviate.examples", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, utils.NewTransportError("weaviate.examples", resp.StatusCode, nil)
	}

	var response struct {
		Data struct {
			Get map[string][]corpus.Example `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, utils.NewKindError(utils.KindMalformedResponse, "weaviate.examples", "decode graphql response", err)
	}
	if len(response.Errors) > 0 {
		return nil, utils.NewKindError(utils.KindMalformedResponse, "weaviate.examples", utils.Preview(response.Errors[0].Message, 200), nil)
	}

	examples := response.Data.Get[exampleClass]
	if examples == nil {
		examples = []corpus.Example{}
	}
	if cacheKey != "" && len(examples) > 0 {
		if payload, err := json.Marshal(examples); err == nil {
			_ = r.cache.Set(ctx, cacheKey, payload, r.ttl)
		}
	}
	return examples, nil
}

func cacheExamplesKey(limit int) string {
	return fmt.Sprintf("weaviate:examples:%d", limit)
}
