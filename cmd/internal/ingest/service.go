package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"relay/cmd/identity/ids"
	"relay/cmd/internal/generation"
	"relay/cmd/internal/threads"

	"golang.org/x/sync/singleflight"
)

// Authorizer confirms thread ownership. It returns threads.ErrNotFound otherwise.
type Authorizer interface {
	Authorize(ctx context.Context, userID, threadID string) (threads.Thread, error)
}

// Observer receives submission outcomes for metrics.
type Observer interface {
	SubmissionResult(result string)
}

type nopObserver struct{}

func (nopObserver) SubmissionResult(string) {}

// SubmitInput is one inbound chat message.
type SubmitInput struct {
	ThreadID        string
	UserID          string
	Content         string
	ClientMessageID string

	// OnGenerating and OnDelta report progress of the generation run this
	// submit leads. Submits coalesced onto another run see neither.
	OnGenerating func(userMessage Message)
	OnDelta      func(delta string)
}

// Service implements idempotent message ingestion.
type Service struct {
	cfg    Config
	store  Store
	guard  Authorizer
	engine generation.Engine
	log    *slog.Logger
	obs    Observer
	now    func() time.Time

	flights singleflight.Group

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs an ingestion Service.
func NewService(cfg Config, store Store, guard Authorizer, engine generation.Engine, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	s := &Service{
		cfg:      cfg,
		store:    store,
		guard:    guard,
		engine:   engine,
		log:      log,
		obs:      nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func flightKey(threadID, key string) string { return threadID + "\x00" + key }

// Submit stores a user message and returns the assistant reply for it.
//
// Repeated submits with the same client_message_id return the same reply.
// Concurrent submits share one generation run. If the caller's ctx ends first
// it stops waiting; the run continues for the other callers.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Message, error) {
	const op = "ingest.Submit"

	key := strings.TrimSpace(in.ClientMessageID)
	if key == "" {
		s.obs.SubmissionResult("invalid")
		return Message{}, ErrMissingDedupKey
	}
	if len(key) > MaxDedupKeyLen {
		s.obs.SubmissionResult("invalid")
		return Message{}, fmt.Errorf("client_message_id too long: %w", ErrInvalidContent)
	}
	content := strings.TrimSpace(in.Content)
	if n := utf8.RuneCountInString(content); n == 0 || n > MaxContentRunes {
		s.obs.SubmissionResult("invalid")
		return Message{}, ErrInvalidContent
	}

	if _, err := s.guard.Authorize(ctx, in.UserID, in.ThreadID); err != nil {
		if errors.Is(err, threads.ErrNotFound) {
			s.obs.SubmissionResult("not_found")
			return Message{}, err
		}
		return Message{}, internal(op, err)
	}

	if reply, err := s.store.FindAssistantReply(ctx, in.ThreadID, key); err == nil {
		s.obs.SubmissionResult("replayed")
		return reply, nil
	} else if !errors.Is(err, ErrNoMessage) {
		return Message{}, internal(op, err)
	}

	in.ClientMessageID, in.Content = key, content
	ch := s.startFlight(flightKey(in.ThreadID, key), in)

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.observeFailure(res.Err)
			return Message{}, res.Err
		}
		s.obs.SubmissionResult("created")
		return res.Val.(Message), nil
	}
}

func (s *Service) observeFailure(err error) {
	switch {
	case errors.Is(err, ErrCanceled):
		s.obs.SubmissionResult("canceled")
	case errors.Is(err, threads.ErrNotFound):
		s.obs.SubmissionResult("not_found")
	default:
		s.obs.SubmissionResult("failed")
	}
}

// Cancel interrupts the in-flight generation for (threadID, key).
// It reports whether a run was found.
func (s *Service) Cancel(threadID, key string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[flightKey(threadID, strings.TrimSpace(key))]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// startFlight joins the generation run for fk or starts a new one.
//
// The run's cancel func is registered before it starts, so a Cancel issued
// as soon as Submit has dispatched always finds it. An inflight entry exists
// exactly while the singleflight call for fk does: both are created under
// s.mu here and both are dropped under s.mu in finishFlight.
func (s *Service) startFlight(fk string, in SubmitInput) <-chan singleflight.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.inflight[fk]; running {
		return s.flights.DoChan(fk, func() (any, error) {
			return nil, internal("ingest.startFlight", errors.New("joined a finished run"))
		})
	}

	genCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GenerationTimeout)
	s.inflight[fk] = cancel
	return s.flights.DoChan(fk, func() (any, error) {
		defer s.finishFlight(fk, cancel)
		return s.run(genCtx, in)
	})
}

func (s *Service) finishFlight(fk string, cancel context.CancelFunc) {
	s.mu.Lock()
	delete(s.inflight, fk)
	s.flights.Forget(fk)
	s.mu.Unlock()
	cancel()
}

// run is the body of one coalesced generation. genCtx is detached from every
// caller context.
func (s *Service) run(genCtx context.Context, in SubmitInput) (Message, error) {
	const op = "ingest.run"

	// Another run may have committed between the caller's check and this one.
	if reply, err := s.store.FindAssistantReply(genCtx, in.ThreadID, in.ClientMessageID); err == nil {
		return reply, nil
	}

	user, err := s.findOrCreateUser(genCtx, in)
	if err != nil {
		return Message{}, err
	}

	if errors.Is(genCtx.Err(), context.Canceled) {
		s.log.Info("ingest.generate.canceled", "thread_id", in.ThreadID, "client_message_id", in.ClientMessageID)
		return Message{}, ErrCanceled
	}

	if in.OnGenerating != nil {
		in.OnGenerating(user)
	}

	turns, err := s.history(genCtx, user)
	if err != nil {
		return Message{}, internal(op, err)
	}

	text, err := s.generate(genCtx, turns, in.OnDelta)
	if err != nil {
		switch {
		case errors.Is(genCtx.Err(), context.Canceled):
			s.log.Info("ingest.generate.canceled", "thread_id", in.ThreadID, "client_message_id", in.ClientMessageID)
			return Message{}, ErrCanceled
		case errors.Is(genCtx.Err(), context.DeadlineExceeded):
			s.log.Warn("ingest.generate.timeout", "thread_id", in.ThreadID, "client_message_id", in.ClientMessageID)
			return Message{}, internal(op, err)
		default:
			s.log.Error("ingest.generate.fail", "thread_id", in.ThreadID, "client_message_id", in.ClientMessageID, "err", err)
			return Message{}, internal(op, err)
		}
	}

	return s.commit(in, user, text)
}

func (s *Service) generate(ctx context.Context, turns []generation.Turn, onDelta func(string)) (string, error) {
	stream, err := s.engine.Stream(ctx, turns)
	if err != nil {
		return "", err
	}
	return generation.Collect(ctx, stream, onDelta)
}

func (s *Service) findOrCreateUser(ctx context.Context, in SubmitInput) (Message, error) {
	const op = "ingest.findOrCreateUser"

	var last error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		m, err := s.store.FindUserMessage(ctx, in.ThreadID, in.ClientMessageID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrNoMessage) {
			return Message{}, internal(op, err)
		}

		now := s.now()
		id, err := ids.NewULID(now)
		if err != nil {
			return Message{}, internal(op, err)
		}
		key := in.ClientMessageID
		m = Message{
			ID:              id,
			ThreadID:        in.ThreadID,
			SenderType:      SenderUser,
			Content:         in.Content,
			ClientMessageID: &key,
			CreatedAt:       now,
		}

		err = s.store.InsertUserMessage(ctx, m)
		switch {
		case err == nil:
			return m, nil
		case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflictRetry):
			// Someone else won the insert; the next pass reads their row.
			last = err
			continue
		case errors.Is(err, threads.ErrNotFound):
			return Message{}, err
		default:
			return Message{}, internal(op, err)
		}
	}
	return Message{}, &AttemptsError{Op: op, Attempts: s.cfg.MaxAttempts, Last: last}
}

// history builds the engine context: the most recent messages before the
// user message, then the user message itself.
func (s *Service) history(ctx context.Context, user Message) ([]generation.Turn, error) {
	var prior []Message
	if s.cfg.HistoryWindow > 0 {
		var err error
		prior, err = s.store.ListMessages(ctx, user.ThreadID, user.ID, s.cfg.HistoryWindow)
		if err != nil {
			return nil, err
		}
	}
	turns := make([]generation.Turn, 0, len(prior)+1)
	for _, m := range prior {
		turns = append(turns, generation.Turn{Role: string(m.SenderType), Content: m.Content})
	}
	return append(turns, generation.Turn{Role: generation.RoleUser, Content: user.Content}), nil
}

func (s *Service) commit(in SubmitInput, user Message, text string) (Message, error) {
	const op = "ingest.commit"

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommitTimeout)
	defer cancel()

	now := s.now()
	var last error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		id, err := ids.NewULID(now)
		if err != nil {
			return Message{}, internal(op, err)
		}
		parent, key := user.ID, in.ClientMessageID
		reply := Message{
			ID:                        id,
			ThreadID:                  in.ThreadID,
			SenderType:                SenderAssistant,
			Content:                   text,
			ParentMessageID:           &parent,
			ResponseToClientMessageID: &key,
			CreatedAt:                 now,
		}

		stored, existing, err := s.store.CommitAssistantReply(ctx, reply)
		switch {
		case err == nil:
			if existing {
				s.log.Info("ingest.reply.existing", "thread_id", in.ThreadID, "client_message_id", key)
			}
			return stored, nil
		case errors.Is(err, ErrConflictRetry):
			last = err
			continue
		case errors.Is(err, ErrNoMessage), errors.Is(err, threads.ErrNotFound):
			// The thread was deleted while generating.
			return Message{}, threads.ErrNotFound
		default:
			return Message{}, internal(op, err)
		}
	}
	return Message{}, &AttemptsError{Op: op, Attempts: s.cfg.MaxAttempts, Last: last}
}

// GetMessage returns one message of an owned thread.
func (s *Service) GetMessage(ctx context.Context, userID, threadID, messageID string) (Message, error) {
	if _, err := s.guard.Authorize(ctx, userID, threadID); err != nil {
		return Message{}, err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return Message{}, ErrNoMessage
	}
	return s.store.GetMessage(ctx, threadID, messageID)
}

// ListMessages returns a page of an owned thread's history, oldest first.
func (s *Service) ListMessages(ctx context.Context, userID, threadID, before string, limit int) ([]Message, error) {
	if _, err := s.guard.Authorize(ctx, userID, threadID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	return s.store.ListMessages(ctx, threadID, strings.TrimSpace(before), limit)
}
