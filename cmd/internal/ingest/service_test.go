package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relay/cmd/internal/generation"
	"relay/cmd/internal/threads"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEngine echoes the last turn and records every call. When block is
// set, the first call waits for cancellation instead of answering.
type scriptedEngine struct {
	calls   atomic.Int32
	block   bool
	fail    error
	started chan struct{}

	mu    sync.Mutex
	turns [][]generation.Turn
}

func (e *scriptedEngine) Stream(ctx context.Context, turns []generation.Turn) (<-chan generation.Chunk, error) {
	n := e.calls.Add(1)
	e.mu.Lock()
	e.turns = append(e.turns, turns)
	e.mu.Unlock()

	if e.fail != nil {
		return nil, e.fail
	}

	ch := make(chan generation.Chunk)
	go func() {
		defer close(ch)
		if e.block && n == 1 {
			if e.started != nil {
				close(e.started)
			}
			<-ctx.Done()
			return
		}
		// Give concurrent submitters time to pile onto the same run.
		time.Sleep(20 * time.Millisecond)
		for _, d := range []string{"re: ", turns[len(turns)-1].Content} {
			select {
			case ch <- generation.Chunk{Delta: d}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type harness struct {
	svc     *Service
	store   *MemoryStore
	threads *threads.Service
	engine  *scriptedEngine
	thread  threads.Thread
}

func newHarness(t *testing.T, engine *scriptedEngine) harness {
	t.Helper()
	return newHarnessWithStore(t, engine, NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, engine *scriptedEngine, store Store) harness {
	t.Helper()

	mem, _ := store.(*MemoryStore)
	ts := threads.NewService(threads.NewMemoryStore(), nil, store.DeleteThread)
	th, err := ts.Create(context.Background(), time.Now().UTC(), "owner", "")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.GenerationTimeout = 5 * time.Second
	svc := NewService(cfg, store, ts.Guard(), engine, nil)
	return harness{svc: svc, store: mem, threads: ts, engine: engine, thread: th}
}

func (h harness) submit(ctx context.Context, key, content string) (Message, error) {
	return h.svc.Submit(ctx, SubmitInput{
		ThreadID:        h.thread.ID,
		UserID:          "owner",
		Content:         content,
		ClientMessageID: key,
	})
}

func (h harness) all(t *testing.T) []Message {
	t.Helper()
	msgs, err := h.store.ListMessages(context.Background(), h.thread.ID, "", MaxHistoryLimit)
	require.NoError(t, err)
	return msgs
}

func TestSubmit_ConcurrentSameKey(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &scriptedEngine{})
	ctx := context.Background()

	const n = 12
	var (
		wg      sync.WaitGroup
		replies = make([]Message, n)
		errs    = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i], errs[i] = h.submit(ctx, "k-1", "hello")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, replies[0].ID, replies[i].ID)
	}
	assert.Equal(t, int32(1), h.engine.calls.Load())

	msgs := h.all(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, SenderUser, msgs[0].SenderType)
	assert.Equal(t, SenderAssistant, msgs[1].SenderType)
	assert.Equal(t, "re: hello", msgs[1].Content)
	require.NotNil(t, msgs[1].ParentMessageID)
	assert.Equal(t, msgs[0].ID, *msgs[1].ParentMessageID)
}

func TestSubmit_MissingDedupKey(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &scriptedEngine{})

	for _, key := range []string{"", "   "} {
		_, err := h.submit(context.Background(), key, "hello")
		assert.ErrorIs(t, err, ErrMissingDedupKey)
	}
	assert.Empty(t, h.all(t))
	assert.Equal(t, int32(0), h.engine.calls.Load())
}

func TestSubmit_CancelThenResubmit(t *testing.T) {
	t.Parallel()
	engine := &scriptedEngine{block: true, started: make(chan struct{})}
	h := newHarness(t, engine)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.submit(ctx, "k-cancel", "write a poem")
		done <- err
	}()

	select {
	case <-engine.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation never started")
	}
	assert.True(t, h.svc.Cancel(h.thread.ID, "k-cancel"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not interrupt generation")
	}

	// Only the user message survived the canceled run.
	msgs := h.all(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, SenderUser, msgs[0].SenderType)

	reply, err := h.submit(ctx, "k-cancel", "write a poem")
	require.NoError(t, err)
	assert.Equal(t, "re: write a poem", reply.Content)

	again, err := h.submit(ctx, "k-cancel", "write a poem")
	require.NoError(t, err)
	assert.Equal(t, reply.ID, again.ID)

	msgs = h.all(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, SenderAssistant, msgs[1].SenderType)
	assert.Equal(t, int32(2), engine.calls.Load())
	assert.False(t, h.svc.Cancel(h.thread.ID, "k-cancel"))
}

// gatedStore parks the first user-message lookup of a run until released.
type gatedStore struct {
	*MemoryStore
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) FindUserMessage(ctx context.Context, threadID, key string) (Message, error) {
	s.once.Do(func() {
		close(s.reached)
		<-s.release
	})
	return s.MemoryStore.FindUserMessage(ctx, threadID, key)
}

func TestSubmit_CancelBeforeGeneration(t *testing.T) {
	t.Parallel()
	store := &gatedStore{
		MemoryStore: NewMemoryStore(),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	engine := &scriptedEngine{}
	h := newHarnessWithStore(t, engine, store)
	h.store = store.MemoryStore

	done := make(chan error, 1)
	go func() {
		_, err := h.submit(context.Background(), "k-early", "hello")
		done <- err
	}()

	select {
	case <-store.reached:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}
	assert.True(t, h.svc.Cancel(h.thread.ID, "k-early"))
	close(store.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return")
	}
	assert.Equal(t, int32(0), engine.calls.Load())

	msgs := h.all(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, SenderUser, msgs[0].SenderType)
	assert.False(t, h.svc.Cancel(h.thread.ID, "k-early"))
}

func TestSubmit_ReplayDoesNotRegenerate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &scriptedEngine{})
	ctx := context.Background()

	first, err := h.submit(ctx, "k", "hi")
	require.NoError(t, err)
	second, err := h.submit(ctx, "k", "hi, edited")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), h.engine.calls.Load())
}

func TestSubmit_NotOwner(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &scriptedEngine{})

	_, err := h.svc.Submit(context.Background(), SubmitInput{
		ThreadID: h.thread.ID, UserID: "intruder", Content: "hi", ClientMessageID: "k",
	})
	assert.ErrorIs(t, err, threads.ErrNotFound)
	assert.Empty(t, h.all(t))
}

func TestSubmit_InvalidContent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &scriptedEngine{})

	big := make([]rune, MaxContentRunes+1)
	for i := range big {
		big[i] = 'a'
	}
	for _, c := range []string{"", "  \n ", string(big)} {
		_, err := h.submit(context.Background(), "k", c)
		assert.ErrorIs(t, err, ErrInvalidContent)
	}
}

func TestSubmit_EngineFailureKeepsUserMessage(t *testing.T) {
	t.Parallel()
	engine := &scriptedEngine{fail: errors.New("upstream down")}
	h := newHarness(t, engine)
	ctx := context.Background()

	_, err := h.submit(ctx, "k", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)

	msgs := h.all(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, SenderUser, msgs[0].SenderType)

	engine.fail = nil
	reply, err := h.submit(ctx, "k", "hello")
	require.NoError(t, err)
	assert.Equal(t, "re: hello", reply.Content)
	assert.Len(t, h.all(t), 2)
}

func TestSubmit_HistoryWindow(t *testing.T) {
	t.Parallel()
	engine := &scriptedEngine{}
	h := newHarness(t, engine)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.submit(ctx, fmt.Sprintf("k-%d", i), fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	last := engine.turns[len(engine.turns)-1]
	require.Len(t, last, 5)
	assert.Equal(t, generation.RoleUser, last[0].Role)
	assert.Equal(t, "msg 0", last[0].Content)
	assert.Equal(t, generation.RoleAssistant, last[1].Role)
	assert.Equal(t, "msg 2", last[4].Content)
}

func TestSubmit_ThreadDeletedDuringGeneration(t *testing.T) {
	t.Parallel()
	engine := &scriptedEngine{}
	h := newHarness(t, engine)

	h.svc.engine = generation.EchoEngine{Delay: 20 * time.Millisecond}
	done := make(chan error, 1)
	go func() {
		_, err := h.submit(context.Background(), "k", "one two three")
		done <- err
	}()

	require.Eventually(t, func() bool { return len(h.all(t)) == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, h.threads.Delete(context.Background(), "owner", h.thread.ID))

	err := <-done
	assert.ErrorIs(t, err, threads.ErrNotFound)
	assert.Empty(t, h.all(t))
}

// conflictingStore always reports a transient conflict on insert.
type conflictingStore struct {
	*MemoryStore
	inserts atomic.Int32
}

func (s *conflictingStore) InsertUserMessage(context.Context, Message) error {
	s.inserts.Add(1)
	return ErrConflictRetry
}

func TestSubmit_ConflictAttemptsExhausted(t *testing.T) {
	t.Parallel()
	store := &conflictingStore{MemoryStore: NewMemoryStore()}
	h := newHarnessWithStore(t, &scriptedEngine{}, store)
	h.store = store.MemoryStore

	_, err := h.submit(context.Background(), "k", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, ErrConflictRetry)

	var ae *AttemptsError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 3, ae.Attempts)
	assert.Equal(t, int32(3), store.inserts.Load())
}

func TestListMessages_PagingAndLimits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &scriptedEngine{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.submit(ctx, fmt.Sprintf("k-%d", i), fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	all, err := h.svc.ListMessages(ctx, "owner", h.thread.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	page, err := h.svc.ListMessages(ctx, "owner", h.thread.ID, all[4].ID, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[2].ID, page[0].ID)
	assert.Equal(t, all[3].ID, page[1].ID)

	_, err = h.svc.ListMessages(ctx, "intruder", h.thread.ID, "", 10)
	assert.ErrorIs(t, err, threads.ErrNotFound)
}

func TestGetMessage_OwnedThreadOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &scriptedEngine{})
	ctx := context.Background()

	reply, err := h.submit(ctx, "k-get", "hello")
	require.NoError(t, err)

	got, err := h.svc.GetMessage(ctx, "owner", h.thread.ID, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.ID, got.ID)
	assert.Equal(t, SenderAssistant, got.SenderType)
	assert.Equal(t, "re: hello", got.Content)

	_, err = h.svc.GetMessage(ctx, "owner", h.thread.ID, "01J0000000000000000MISSING")
	assert.ErrorIs(t, err, ErrNoMessage)

	_, err = h.svc.GetMessage(ctx, "intruder", h.thread.ID, reply.ID)
	assert.ErrorIs(t, err, threads.ErrNotFound)
}
