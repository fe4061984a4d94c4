package stages

import (
	"context"

	"github.com/miradorstack/mirador-audit/internal/agent"
)

type scriptedInvoker struct {
	responses map[agent.Type]string
	errs      map[agent.Type]error
	prompts   map[agent.Type]string
	calls     map[agent.Type]int
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		responses: make(map[agent.Type]string),
		errs:      make(map[agent.Type]error),
		prompts:   make(map[agent.Type]string),
		calls:     make(map[agent.Type]int),
	}
}

func (s *scriptedInvoker) Invoke(_ context.Context, at agent.Type, userPrompt string) (string, error) {
	s.calls[at]++
	s.prompts[at] = userPrompt
	if err := s.errs[at]; err != nil {
		return "", err
	}
	return s.responses[at], nil
}
