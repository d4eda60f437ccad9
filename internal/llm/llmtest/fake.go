// Package llmtest provides a scripted llm.Adapter for use in executor and
// engine tests, so those tests don't depend on network access or real
// credentials.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentdag/agentdag/internal/llm"
)

// Adapter returns canned responses in call order. If Responses is exhausted,
// it returns Err (or a default error if unset).
type Adapter struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	calls     int
	Prompts   []string
}

func (a *Adapter) Generate(_ context.Context, _ string, prompt string, _ llm.Hyperparameters) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Prompts = append(a.Prompts, prompt)
	if a.calls >= len(a.Responses) {
		if a.Err != nil {
			return "", a.Err
		}
		return "", fmt.Errorf("llmtest: no scripted response for call %d", a.calls)
	}
	resp := a.Responses[a.calls]
	a.calls++
	return resp, nil
}

var _ llm.Adapter = (*Adapter)(nil)
