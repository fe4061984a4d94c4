package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-audit/internal/utils"
)

type fakeGenerator struct {
	mu       sync.Mutex
	readyErr error
	calls    int
	systems  []string
	respond  func(ctx context.Context, user string) (string, error)
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.systems = append(f.systems, system)
	f.mu.Unlock()
	if f.respond == nil {
		return `{"ok":true}`, nil
	}
	return f.respond(ctx, user)
}

func (f *fakeGenerator) Ready() error { return f.readyErr }

func blockUntilDone(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", utils.NewTransportError("gemini.generateContent", 0, ctx.Err())
}

func TestInvokeSelectsSystemPrompt(t *testing.T) {
	gen := &fakeGenerator{}
	inv := NewInvoker(gen, Timeouts{}, nil)

	for _, at := range Types() {
		_, err := inv.Invoke(context.Background(), at, "payload")
		require.NoError(t, err)
	}

	require.Len(t, gen.systems, 3)
	assert.True(t, strings.HasPrefix(gen.systems[0], ParserMarker))
	assert.True(t, strings.HasPrefix(gen.systems[1], ExtractorMarker))
	assert.True(t, strings.HasPrefix(gen.systems[2], ClassifierMarker))
}

func TestInvokeConfigurationErrorSkipsCall(t *testing.T) {
	gen := &fakeGenerator{readyErr: utils.NewKindError(utils.KindConfiguration, "gemini", "api key not configured", nil)}
	inv := NewInvoker(gen, Timeouts{}, nil)

	_, err := inv.Invoke(context.Background(), Parser, "payload")
	assert.Equal(t, utils.KindConfiguration, utils.KindOf(err))
	assert.Zero(t, gen.calls)
}

func TestInvokeDistinguishesTimeoutFromCancellation(t *testing.T) {
	gen := &fakeGenerator{respond: blockUntilDone}
	inv := NewInvoker(gen, Timeouts{Parser: 20 * time.Millisecond}, nil)

	_, err := inv.Invoke(context.Background(), Parser, "payload")
	assert.Equal(t, utils.KindTimeout, utils.KindOf(err))
	assert.True(t, utils.IsRetryable(err))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	inv = NewInvoker(gen, Timeouts{Parser: time.Minute}, nil)
	_, err = inv.Invoke(ctx, Parser, "payload")
	assert.Equal(t, utils.KindCancelled, utils.KindOf(err))
	assert.False(t, utils.IsRetryable(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInvokeAlreadyCancelled(t *testing.T) {
	gen := &fakeGenerator{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewInvoker(gen, Timeouts{}, nil).Invoke(ctx, Extractor, "payload")
	assert.Equal(t, utils.KindCancelled, utils.KindOf(err))
	assert.Zero(t, gen.calls)
}

func TestInvokePassesTransportErrors(t *testing.T) {
	gen := &fakeGenerator{respond: func(context.Context, string) (string, error) {
		return "", utils.NewTransportError("gemini.generateContent", 503, nil)
	}}
	_, err := NewInvoker(gen, Timeouts{}, nil).Invoke(context.Background(), Classifier, "payload")

	var appErr *utils.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, utils.KindTransport, appErr.Kind)
	assert.Equal(t, 503, appErr.StatusCode)
}

func TestDefaultTimeoutsFavourLargerStages(t *testing.T) {
	def := DefaultTimeouts()
	assert.Less(t, def.Parser, def.Extractor)
	assert.Less(t, def.Parser, def.Classifier)
	assert.Equal(t, def.Extractor, Timeouts{}.forType(Extractor))
}
