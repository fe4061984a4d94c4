package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	auditv1 "github.com/miradorstack/mirador-audit/internal/grpc/auditv1"
	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

type runnerStub struct {
	got    models.ExtractionRequest
	result models.PipelineResult
	err    error
}

func (r *runnerStub) Run(_ context.Context, req models.ExtractionRequest) (models.PipelineResult, error) {
	r.got = req
	return r.result, r.err
}

func TestExtractVulnerabilitiesUsesCorpusDefaults(t *testing.T) {
	runner := &runnerStub{result: models.PipelineResult{RunID: "run-1", Outcome: models.OutcomeDone}}
	service := NewExtractionService(nil, runner, Defaults{AllowedTags: []string{"Oracle"}, Examples: "### corpus"})

	resp, err := service.ExtractVulnerabilities(context.Background(), &auditv1.ExtractRequest{ReportText: "report"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RunId != "run-1" || resp.Findings == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(runner.got.AllowedTags) != 1 || runner.got.Examples != "### corpus" {
		t.Fatalf("corpus defaults not applied: %+v", runner.got)
	}
}

func TestExtractVulnerabilitiesKeepsRequestTags(t *testing.T) {
	runner := &runnerStub{result: models.PipelineResult{Outcome: models.OutcomeDone}}
	service := NewExtractionService(nil, runner, Defaults{AllowedTags: []string{"Oracle"}, Examples: "### corpus"})

	_, err := service.ExtractVulnerabilities(context.Background(), &auditv1.ExtractRequest{
		ReportText:             "report",
		AllowedTags:            []string{"Reentrancy"},
		ExampleVulnerabilities: "### mine",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.got.AllowedTags[0] != "Reentrancy" || runner.got.Examples != "### mine" {
		t.Fatalf("request values overridden: %+v", runner.got)
	}
}

func TestExtractVulnerabilitiesInvalidRequest(t *testing.T) {
	service := NewExtractionService(nil, &runnerStub{}, Defaults{})
	if _, err := service.ExtractVulnerabilities(context.Background(), nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := service.ExtractVulnerabilities(context.Background(), &auditv1.ExtractRequest{}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := NewExtractionService(nil, nil, Defaults{}).ExtractVulnerabilities(context.Background(), &auditv1.ExtractRequest{ReportText: "x"}); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}

func TestExtractVulnerabilitiesMapsFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"configuration", utils.NewKindError(utils.KindConfiguration, "gemini", "api key is not set", nil), codes.FailedPrecondition},
		{"cancelled", utils.NewKindError(utils.KindCancelled, "agent.parser", "call cancelled", context.Canceled), codes.Canceled},
		{"timeout", utils.NewKindError(utils.KindTimeout, "agent.extractor", "deadline", nil), codes.DeadlineExceeded},
		{"transport", utils.NewTransportError("gemini", 503, nil), codes.Unavailable},
		{"malformed", utils.NewKindError(utils.KindMalformedResponse, "gemini", "no candidates", nil), codes.Unavailable},
		{"decode", utils.NewKindError(utils.KindDecode, "extractor", "no json", nil), codes.Internal},
		{"plain", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &runnerStub{
				result: models.PipelineResult{RunID: "run-9", Outcome: models.OutcomeFailed, FailedStage: models.StageExtractor, Error: "extractor stage failed (" + tc.name + ")"},
				err:    tc.err,
			}
			_, err := NewExtractionService(nil, runner, Defaults{}).ExtractVulnerabilities(context.Background(), &auditv1.ExtractRequest{ReportText: "report"})
			st, _ := status.FromError(err)
			if st.Code() != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, st.Code())
			}
			if !strings.Contains(st.Message(), "extractor stage") || !strings.Contains(st.Message(), "run-9") {
				t.Fatalf("message should name run and stage: %q", st.Message())
			}
		})
	}
}
