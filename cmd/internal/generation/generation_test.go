package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEcho_StreamsLastUserTurn(t *testing.T) {
	t.Parallel()

	turns := []Turn{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "hello there world"},
	}
	ch, err := EchoEngine{Prefix: "echo: "}.Stream(context.Background(), turns)
	require.NoError(t, err)

	var deltas []string
	out, err := Collect(context.Background(), ch, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, "echo: hello there world", out)
	assert.Equal(t, []string{"echo:", " hello", " there", " world"}, deltas)
}

func TestEcho_EmptyInput(t *testing.T) {
	t.Parallel()

	ch, err := EchoEngine{}.Stream(context.Background(), nil)
	require.NoError(t, err)
	_, err = Collect(context.Background(), ch, nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestCollect_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := EchoEngine{Delay: time.Hour}.Stream(ctx, []Turn{{Role: RoleUser, Content: "slow"}})
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = Collect(ctx, ch, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollect_ChunkError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ch := make(chan Chunk, 2)
	ch <- Chunk{Delta: "partial"}
	ch <- Chunk{Err: boom}
	close(ch)

	_, err := Collect(context.Background(), ch, nil)
	assert.ErrorIs(t, err, boom)
}

func TestWithTiming_Observes(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	e := WithTiming(EchoEngine{}, func(time.Duration) { calls.Add(1) })
	ch, err := e.Stream(context.Background(), []Turn{{Role: RoleUser, Content: "a b"}})
	require.NoError(t, err)
	out, err := Collect(context.Background(), ch, nil)
	require.NoError(t, err)
	assert.Equal(t, "a b", out)

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOpenAIEngine_Streams(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Engine = EngineOpenAI
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL + "/v1"

	e, err := New(cfg)
	require.NoError(t, err)

	ch, err := e.Stream(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	out, err := Collect(context.Background(), ch, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("RELAY_GEN_ENGINE", "")
	t.Setenv("RELAY_GEN_API_KEY", "")
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, EngineEcho, cfg.Engine)

	t.Setenv("RELAY_GEN_ENGINE", "openai")
	_, err = LoadConfigFromEnv()
	assert.ErrorIs(t, err, ErrConfig)

	t.Setenv("RELAY_GEN_API_KEY", "k")
	t.Setenv("RELAY_GEN_MAX_TOKENS", "256")
	t.Setenv("RELAY_GEN_TEMPERATURE", "0.2")
	cfg, err = LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-6)

	t.Setenv("RELAY_GEN_ENGINE", "llama")
	_, err = LoadConfigFromEnv()
	assert.ErrorIs(t, err, ErrConfig)
}
