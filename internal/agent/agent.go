// Package agent sends one stage prompt to the language model and classifies
// the outcome into the error taxonomy the coordinator acts on.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-audit/internal/models"
	"github.com/miradorstack/mirador-audit/internal/utils"
)

// Type selects the system prompt and response contract of a call.
type Type int

const (
	Parser Type = iota
	Extractor
	Classifier
)

// Types lists every agent in pipeline order.
func Types() []Type { return []Type{Parser, Extractor, Classifier} }

func (t Type) String() string {
	switch t {
	case Parser:
		return "parser"
	case Extractor:
		return "extractor"
	case Classifier:
		return "classifier"
	default:
		return "unknown"
	}
}

// Stage returns the pipeline stage served by t.
func (t Type) Stage() models.Stage {
	switch t {
	case Parser:
		return models.StageParser
	case Extractor:
		return models.StageExtractor
	default:
		return models.StageClassifier
	}
}

// Generator performs the raw model call.
type Generator interface {
	GenerateContent(ctx context.Context, systemInstruction, userPrompt string) (string, error)
	Ready() error
}

// Timeouts bounds each agent call. Zero values fall back to defaults.
type Timeouts struct {
	Parser     time.Duration
	Extractor  time.Duration
	Classifier time.Duration
}

// DefaultTimeouts gives the parser less time than the larger payload stages.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Parser:     60 * time.Second,
		Extractor:  180 * time.Second,
		Classifier: 120 * time.Second,
	}
}

func (t Timeouts) forType(at Type) time.Duration {
	def := DefaultTimeouts()
	switch at {
	case Parser:
		return firstPositive(t.Parser, def.Parser)
	case Extractor:
		return firstPositive(t.Extractor, def.Extractor)
	default:
		return firstPositive(t.Classifier, def.Classifier)
	}
}

func firstPositive(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

var errStageDeadline = errors.New("agent deadline exceeded")

// Invoker pairs a Generator with the fixed prompt table and per-agent
// deadlines. It is stateless after construction.
type Invoker struct {
	gen      Generator
	timeouts Timeouts
	logger   *slog.Logger
}

// NewInvoker constructs an Invoker.
func NewInvoker(gen Generator, timeouts Timeouts, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{gen: gen, timeouts: timeouts, logger: logger}
}

// Ready returns a configuration error when no call can succeed.
func (i *Invoker) Ready() error {
	if i == nil || i.gen == nil {
		return utils.NewKindError(utils.KindConfiguration, "agent.invoke", "no model client configured", nil)
	}
	return i.gen.Ready()
}

// Invoke runs one agent call. A done parent context yields KindCancelled;
// expiry of the agent's own deadline yields KindTimeout.
func (i *Invoker) Invoke(ctx context.Context, at Type, userPrompt string) (string, error) {
	op := "agent." + at.String()
	if err := i.Ready(); err != nil {
		return "", err
	}
	system, ok := systemPrompts[at]
	if !ok {
		return "", utils.NewKindError(utils.KindConfiguration, op, "no system prompt for agent", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", utils.NewKindError(utils.KindCancelled, op, "cancelled before call", context.Cause(ctx))
	}

	timeout := i.timeouts.forType(at)
	callCtx, cancel := context.WithTimeoutCause(ctx, timeout, errStageDeadline)
	defer cancel()

	start := time.Now()
	text, err := i.gen.GenerateContent(callCtx, system, userPrompt)
	elapsed := time.Since(start)
	if err == nil {
		i.logger.Debug("agent call completed",
			slog.String("agent", at.String()),
			slog.Duration("elapsed", elapsed),
			slog.Int("response_bytes", len(text)),
		)
		return text, nil
	}

	switch {
	case ctx.Err() != nil:
		return "", utils.NewKindError(utils.KindCancelled, op, "call cancelled", context.Cause(ctx))
	case errors.Is(context.Cause(callCtx), errStageDeadline):
		return "", utils.NewKindError(utils.KindTimeout, op, "deadline of "+timeout.String()+" exceeded", errStageDeadline)
	default:
		return "", err
	}
}
