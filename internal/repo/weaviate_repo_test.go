package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-audit/internal/cache"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

func TestFetchExamplesNoEndpoint(t *testing.T) {
	r := NewExampleRepo("", "", time.Second, cache.NoopProvider{}, 0)
	examples, err := r.FetchExamples(context.Background(), 5)
	if err != nil || examples != nil {
		t.Fatalf("expected nil, nil; got %v, %v", examples, err)
	}
	if r.Enabled() {
		t.Fatalf("repo without endpoint must be disabled")
	}
}

func TestFetchExamplesCachesResults(t *testing.T) {
	var hits int
	cacheStub := newStubCache()
	repo := NewExampleRepo("https://weaviate.test/", "secret", time.Second, cacheStub, time.Minute)
	repo.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/v1/graphql" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var gql map[string]string
		if err := json.NewDecoder(req.Body).Decode(&gql); err != nil {
			t.Fatalf("decode query: %v", err)
		}
		if !strings.Contains(gql["query"], "VulnerabilityExample(limit: 3)") {
			t.Fatalf("unexpected query %s", gql["query"])
		}
		return jsonResponse(http.StatusOK, `{"data":{"Get":{"VulnerabilityExample":[{"title":"Stale oracle price","severity":"high","tags":["Oracle"],"category":"valid","rationale":"No freshness check"}]}}}`), nil
	}))

	ctx := context.Background()
	first, err := repo.FetchExamples(ctx, 3)
	if err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if len(first) != 1 || first[0].Title != "Stale oracle price" || first[0].Tags[0] != "Oracle" {
		t.Fatalf("unexpected examples: %+v", first)
	}

	second, err := repo.FetchExamples(ctx, 3)
	if err != nil {
		t.Fatalf("unexpected error on cached call: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected cached response, got %d upstream calls", hits)
	}
	if len(second) != 1 || second[0].Rationale != "No freshness check" {
		t.Fatalf("unexpected cached examples: %+v", second)
	}
	if _, err := cacheStub.Get(ctx, cacheExamplesKey(3)); err != nil {
		t.Fatalf("expected cache entry: %v", err)
	}
}

func TestFetchExamplesErrors(t *testing.T) {
	cases := []struct {
		name string
		resp *http.Response
		kind utils.ErrorKind
	}{
		{name: "status", resp: jsonResponse(http.StatusServiceUnavailable, `down`), kind: utils.KindTransport},
		{name: "graphql errors", resp: jsonResponse(http.StatusOK, `{"errors":[{"message":"class not found"}]}`), kind: utils.KindMalformedResponse},
		{name: "bad json", resp: jsonResponse(http.StatusOK, `{"data":`), kind: utils.KindMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := NewExampleRepo("https://weaviate.test", "", time.Second, nil, 0)
			repo.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
				return tc.resp, nil
			}))
			_, err := repo.FetchExamples(context.Background(), 1)
			if utils.KindOf(err) != tc.kind {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
}
