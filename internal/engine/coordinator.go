package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-audit/internal/agent"
	"github.com/miradorstack/mirador-audit/internal/metrics"
	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/stages"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

// Invoker defines the agent call behaviour used by the coordinator.
type Invoker interface {
	Invoke(ctx context.Context, at agent.Type, userPrompt string) (string, error)
	Ready() error
}

// State is a step of the run state machine.
type State int

const (
	StateIdle State = iota
	StateParsing
	StateExtracting
	StateClassifying
	StateReconciling
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateParsing:
		return "parsing"
	case StateExtracting:
		return "extracting"
	case StateClassifying:
		return "classifying"
	case StateReconciling:
		return "reconciling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Options tune retry behaviour. MaxRetries counts retries after the first
// attempt; zero disables them.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// OnTransition, when set, observes every state change of every run.
	OnTransition func(runID string, from, to State)
}

// DefaultOptions allows one retry with a short backoff.
func DefaultOptions() Options {
	return Options{MaxRetries: 1, RetryBackoff: 500 * time.Millisecond}
}

const maxRetryBackoff = 30 * time.Second

// Coordinator runs the parser, extractor and classifier stages in sequence
// and reconciles their output. It keeps no per-run state and is safe for
// concurrent runs.
type Coordinator struct {
	logger     *slog.Logger
	invoker    Invoker
	parser     *stages.Parser
	extractor  *stages.Extractor
	classifier *stages.Classifier
	opts       Options
}

// NewCoordinator constructs a coordinator around invoker.
func NewCoordinator(logger *slog.Logger, invoker Invoker, opts Options) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	return &Coordinator{
		logger:     logger,
		invoker:    invoker,
		parser:     stages.NewParser(invoker, logger),
		extractor:  stages.NewExtractor(invoker, logger),
		classifier: stages.NewClassifier(invoker, logger),
		opts:       opts,
	}
}

// run is the mutable state of one execution.
type run struct {
	result models.PipelineResult
	state  State
	logger *slog.Logger
}

// Run executes one extraction. The result is always populated; the error is
// non-nil exactly when the outcome is failed or cancelled.
func (c *Coordinator) Run(ctx context.Context, req models.ExtractionRequest) (models.PipelineResult, error) {
	r := &run{
		result: models.PipelineResult{
			RunID:       uuid.NewString(),
			StartedAt:   time.Now().UTC(),
			Findings:    []models.Finding{},
			Diagnostics: []models.Diagnostic{},
			Stages:      []models.StageReport{},
		},
		state: StateIdle,
	}
	r.logger = c.logger.With(slog.String("run_id", r.result.RunID))

	if c.invoker == nil {
		return c.finish(r, "", utils.NewKindError(utils.KindConfiguration, "coordinator", "no agent invoker configured", nil))
	}
	if err := c.invoker.Ready(); err != nil {
		return c.finish(r, "", err)
	}
	if strings.TrimSpace(req.ReportText) == "" {
		r.diagnose(models.StageParser, "report text is empty; no stage was run")
		return c.finish(r, "", nil)
	}

	// Parsing
	c.transition(r, StateParsing)
	var parsed stages.ParseOutput
	err := c.runStage(ctx, r, models.StageParser, retryFatalStage, func(ctx context.Context) (int, error) {
		var err error
		parsed, err = c.parser.Parse(ctx, req.ReportText)
		return len(parsed.Sections), err
	})
	if err != nil {
		return c.finish(r, models.StageParser, err)
	}
	r.result.TotalFindings = parsed.TotalFindings
	r.result.AuditScope = parsed.AuditScope
	r.result.Diagnostics = append(r.result.Diagnostics, parsed.Diagnostics...)
	if len(parsed.Sections) == 0 {
		return c.finish(r, "", nil)
	}

	// Extracting
	c.transition(r, StateExtracting)
	var (
		raws      []models.RawVulnerability
		stageDiag []models.Diagnostic
	)
	err = c.runStage(ctx, r, models.StageExtractor, retryFatalStage, func(ctx context.Context) (int, error) {
		var err error
		raws, stageDiag, err = c.extractor.Extract(ctx, req.ReportText, parsed.Sections)
		return len(raws), err
	})
	r.result.Diagnostics = append(r.result.Diagnostics, stageDiag...)
	if err != nil {
		return c.finish(r, models.StageExtractor, err)
	}
	if len(raws) == 0 {
		r.diagnose(models.StageExtractor, fmt.Sprintf("no findings extracted from %d sections", len(parsed.Sections)))
		return c.finish(r, "", nil)
	}

	// Classifying
	c.transition(r, StateClassifying)
	var classified []models.ClassifiedVulnerability
	stageDiag = nil
	err = c.runStage(ctx, r, models.StageClassifier, retryDegradingStage, func(ctx context.Context) (int, error) {
		var err error
		classified, stageDiag, err = c.classifier.Classify(ctx, raws, req.AllowedTags, req.Examples)
		return len(classified), err
	})
	r.result.Diagnostics = append(r.result.Diagnostics, stageDiag...)
	if err != nil {
		if isCancellation(ctx, err) {
			return c.finish(r, models.StageClassifier, err)
		}
		classified = nil
		r.degrade(err, len(raws))
	}

	// Reconciling
	c.transition(r, StateReconciling)
	findings, diags := Reconcile(StageOutputs{Sections: parsed.Sections, Raw: raws, Classified: classified})
	r.result.Findings = findings
	r.result.Diagnostics = append(r.result.Diagnostics, diags...)
	return c.finish(r, "", nil)
}

type retryPolicy func(err error) bool

// retryFatalStage retries bounded transient failures of the parser and extractor.
func retryFatalStage(err error) bool {
	return utils.IsRetryable(err)
}

// retryDegradingStage does not retry timeouts: the classifier degrades instead.
func retryDegradingStage(err error) bool {
	return utils.IsRetryable(err) && utils.KindOf(err) != utils.KindTimeout
}

func (c *Coordinator) runStage(ctx context.Context, r *run, stage models.Stage, retry retryPolicy, fn func(context.Context) (int, error)) error {
	report := models.StageReport{Stage: stage}
	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = utils.NewKindError(utils.KindCancelled, string(stage), "run cancelled before stage call", context.Cause(ctx))
			break
		}
		report.Attempts++
		var items int
		items, err = fn(ctx)
		if err == nil {
			report.Items = items
			break
		}
		if isCancellation(ctx, err) || attempt >= c.opts.MaxRetries || !retry(err) {
			break
		}

		kind := utils.KindOf(err)
		metrics.IncRetry(string(stage), kind.String())
		delay := c.backoff(attempt)
		r.logger.Warn("stage attempt failed, retrying",
			slog.String("stage", string(stage)),
			slog.Int("attempt", attempt+1),
			slog.String("kind", kind.String()),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		if !sleepCtx(ctx, delay) {
			err = utils.NewKindError(utils.KindCancelled, string(stage), "run cancelled during retry backoff", context.Cause(ctx))
			break
		}
	}

	report.Duration = time.Since(start)
	outcome := metrics.StageOK
	if err != nil {
		report.ErrorKind = utils.KindOf(err).String()
		outcome = metrics.StageError
		if stage == models.StageClassifier && !isCancellation(ctx, err) {
			outcome = metrics.StageDegraded
		}
	}
	metrics.ObserveStage(string(stage), outcome, report.Duration)
	r.result.Stages = append(r.result.Stages, report)
	return err
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	delay := c.opts.RetryBackoff * time.Duration(1<<uint(attempt))
	if delay > maxRetryBackoff {
		delay = maxRetryBackoff
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isCancellation(ctx context.Context, err error) bool {
	return utils.KindOf(err) == utils.KindCancelled || ctx.Err() != nil
}

// finish moves r to its terminal state and records metrics.
func (c *Coordinator) finish(r *run, stage models.Stage, err error) (models.PipelineResult, error) {
	res := &r.result
	switch {
	case err == nil:
		res.Outcome = models.OutcomeDone
		c.transition(r, StateDone)
	case utils.KindOf(err) == utils.KindCancelled || errors.Is(err, context.Canceled):
		res.Outcome = models.OutcomeCancelled
		c.transition(r, StateCancelled)
	default:
		res.Outcome = models.OutcomeFailed
		c.transition(r, StateFailed)
	}

	if err != nil {
		res.FailedStage = stage
		res.Error = failureMessage(stage, err)
		if stage != "" {
			err = fmt.Errorf("%s stage: %w", stage, err)
		}
	}
	res.Duration = time.Since(res.StartedAt)

	metrics.ObserveRun(res.Duration, string(res.Outcome))
	for status, n := range res.StatusCounts() {
		metrics.AddFindings(string(status), n)
	}

	attrs := []any{
		slog.String("outcome", string(res.Outcome)),
		slog.Int("findings", len(res.Findings)),
		slog.Int("diagnostics", len(res.Diagnostics)),
		slog.Duration("duration", res.Duration),
	}
	if err != nil {
		attrs = append(attrs, slog.String("failed_stage", string(stage)), slog.String("error", res.Error))
		r.logger.Warn("extraction run ended", attrs...)
	} else {
		r.logger.Info("extraction run completed", attrs...)
	}
	return *res, err
}

func failureMessage(stage models.Stage, err error) string {
	kind := utils.KindOf(err)
	prefix := "run"
	if stage != "" {
		prefix = string(stage) + " stage"
	}
	return utils.Preview(fmt.Sprintf("%s failed (%s): %v", prefix, kind, err), 512)
}

func (c *Coordinator) transition(r *run, to State) {
	from := r.state
	r.state = to
	r.logger.Debug("run state changed", slog.String("from", from.String()), slog.String("to", to.String()))
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(r.result.RunID, from, to)
	}
}

func (r *run) diagnose(stage models.Stage, message string) {
	r.result.Diagnostics = append(r.result.Diagnostics, models.Diagnostic{Stage: stage, Message: utils.Preview(message, 512)})
}

func (r *run) degrade(err error, affected int) {
	r.diagnose(models.StageClassifier, fmt.Sprintf("classification unavailable (%s), %d findings use the default classification: %v",
		utils.KindOf(err), affected, err))
	r.logger.Warn("classifier stage degraded",
		slog.Int("affected", affected),
		slog.String("kind", utils.KindOf(err).String()),
		slog.Any("error", err),
	)
}
