package generation

import (
	"context"
	"strings"
	"time"
)

// EchoEngine answers with the last user turn, word by word. It is used in
// development and tests where no external engine is configured.
type EchoEngine struct {
	// Prefix is prepended to the echoed text.
	Prefix string
	// Delay is slept before each word.
	Delay time.Duration
}

var _ Engine = EchoEngine{}

func (e EchoEngine) Stream(ctx context.Context, turns []Turn) (<-chan Chunk, error) {
	var last string
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			last = turns[i].Content
			break
		}
	}

	words := strings.Fields(e.Prefix + last)
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for i, w := range words {
			if e.Delay > 0 {
				t := time.NewTimer(e.Delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			if i > 0 {
				w = " " + w
			}
			if !send(ctx, ch, Chunk{Delta: w}) {
				return
			}
		}
	}()
	return ch, nil
}
