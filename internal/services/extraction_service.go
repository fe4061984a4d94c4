package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-audit/internal/api"
	auditv1 "github.com/miradorstack/mirador-audit/internal/grpc/auditv1"
	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

// Runner executes one extraction run.
type Runner interface {
	Run(ctx context.Context, req models.ExtractionRequest) (models.PipelineResult, error)
}

// Defaults is the classification context used when a request brings none.
type Defaults struct {
	AllowedTags []string
	Examples    string
}

// ExtractionService implements the gRPC VulnerabilityExtractor service.
type ExtractionService struct {
	auditv1.UnimplementedExtractorServer

	logger    *slog.Logger
	runner    Runner
	defaults  Defaults
	latencies *utils.LatencyTracker
}

// NewExtractionService constructs the extraction service facade.
func NewExtractionService(logger *slog.Logger, runner Runner, defaults Defaults) *ExtractionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionService{
		logger:    logger,
		runner:    runner,
		defaults:  defaults,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// ExtractVulnerabilities runs the pipeline over the request's report.
func (s *ExtractionService) ExtractVulnerabilities(ctx context.Context, req *auditv1.ExtractRequest) (*auditv1.ExtractResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.runner == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}

	domainReq, err := api.FromProtoExtractRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	domainReq = s.withDefaults(domainReq)

	s.logger.Debug("ExtractVulnerabilities called",
		slog.Int("report_bytes", len(domainReq.ReportText)),
		slog.Int("allowed_tags", len(domainReq.AllowedTags)),
	)

	result, err := s.Run(ctx, domainReq)
	if err != nil {
		return nil, toStatus(result, err)
	}
	return api.ToProtoExtractResponse(result), nil
}

// Run executes one request with corpus defaults applied and tracks latency.
// It is shared by the gRPC surface and the CLI.
func (s *ExtractionService) Run(ctx context.Context, req models.ExtractionRequest) (models.PipelineResult, error) {
	if s.runner == nil {
		return models.PipelineResult{}, utils.NewKindError(utils.KindConfiguration, "service", "pipeline not configured", nil)
	}
	req = s.withDefaults(req)

	start := time.Now()
	result, err := s.runner.Run(ctx, req)
	if err != nil {
		s.logger.Error("extraction run failed",
			slog.String("run_id", result.RunID),
			slog.String("stage", string(result.FailedStage)),
			slog.Any("error", err),
		)
		return result, err
	}

	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("extraction latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	return result, nil
}

func (s *ExtractionService) withDefaults(req models.ExtractionRequest) models.ExtractionRequest {
	if len(req.AllowedTags) == 0 {
		req.AllowedTags = append([]string(nil), s.defaults.AllowedTags...)
	}
	if req.Examples == "" {
		req.Examples = s.defaults.Examples
	}
	return req
}

// LatencyP95 returns the current p95 run latency.
func (s *ExtractionService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// toStatus maps a failed run to a gRPC status whose message names the stage.
func toStatus(result models.PipelineResult, err error) error {
	code := codes.Internal
	switch utils.KindOf(err) {
	case utils.KindConfiguration:
		code = codes.FailedPrecondition
	case utils.KindCancelled:
		code = codes.Canceled
	case utils.KindTimeout:
		code = codes.DeadlineExceeded
	case utils.KindTransport, utils.KindMalformedResponse:
		code = codes.Unavailable
	case utils.KindDecode:
		code = codes.Internal
	default:
		if errors.Is(err, context.Canceled) {
			code = codes.Canceled
		} else if errors.Is(err, context.DeadlineExceeded) {
			code = codes.DeadlineExceeded
		}
	}

	msg := result.Error
	if msg == "" {
		msg = utils.Preview(err.Error(), 512)
	}
	if result.RunID != "" {
		msg = fmt.Sprintf("run %s: %s", result.RunID, msg)
	}
	return status.Error(code, msg)
}
