// Package llmtest provides a scripted llm.Completer for tests.
package llmtest

import (
	"context"
	"sync"

	"voice-qa-go/internal/llm"
)

// Fake returns Replies in order (the last one repeats) and records every call.
type Fake struct {
	Replies []string
	Err     error

	mu    sync.Mutex
	Calls [][]llm.Message
	Temps []float64
}

func (f *Fake) Complete(_ context.Context, messages []llm.Message, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, messages)
	f.Temps = append(f.Temps, temperature)
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Replies) == 0 {
		return "", nil
	}
	i := len(f.Calls) - 1
	if i >= len(f.Replies) {
		i = len(f.Replies) - 1
	}
	return f.Replies[i], nil
}

func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// LastPrompt is the content of the final message of the most recent call.
func (f *Fake) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return ""
	}
	msgs := f.Calls[len(f.Calls)-1]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}
