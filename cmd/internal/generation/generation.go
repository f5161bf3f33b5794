// Package generation adapts response engines behind a single streaming interface.
package generation

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role of a conversation turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned by Collect when the stream produced no text.
var ErrEmptyResponse = errors.New("generation: empty response")

// Turn is one message of the context handed to an engine.
type Turn struct {
	Role    string
	Content string
}

// Chunk is one piece of a streamed response. A chunk with Err set is the last one.
type Chunk struct {
	Delta string
	Err   error
}

// Engine produces a response for a conversation as a stream of chunks.
// The channel is closed when the response is complete. Implementations stop
// promptly once ctx is canceled.
type Engine interface {
	Stream(ctx context.Context, turns []Turn) (<-chan Chunk, error)
}

// Collect drains a stream into the full text. onDelta, if non-nil, sees each
// non-empty delta in order.
func Collect(ctx context.Context, ch <-chan Chunk, onDelta func(string)) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case c, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				out := strings.TrimSpace(b.String())
				if out == "" {
					return "", ErrEmptyResponse
				}
				return out, nil
			}
			if c.Err != nil {
				return "", c.Err
			}
			if c.Delta == "" {
				continue
			}
			b.WriteString(c.Delta)
			if onDelta != nil {
				onDelta(c.Delta)
			}
		}
	}
}

// send delivers c unless ctx ends first.
func send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

type timedEngine struct {
	next    Engine
	observe func(time.Duration)
}

// WithTiming reports the wall time from Stream until the stream closes.
func WithTiming(e Engine, observe func(time.Duration)) Engine {
	if observe == nil {
		return e
	}
	return &timedEngine{next: e, observe: observe}
}

func (t *timedEngine) Stream(ctx context.Context, turns []Turn) (<-chan Chunk, error) {
	start := time.Now()
	in, err := t.next.Stream(ctx, turns)
	if err != nil {
		t.observe(time.Since(start))
		return nil, err
	}
	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer func() { t.observe(time.Since(start)) }()
		for c := range in {
			if !send(ctx, out, c) {
				// Drain so the engine goroutine can exit.
				for range in {
				}
				return
			}
		}
	}()
	return out, nil
}
