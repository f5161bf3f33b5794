package ingest

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-process Store used when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	byThread map[string][]Message
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byThread: make(map[string][]Message)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) find(threadID string, match func(Message) bool) (Message, bool) {
	for _, m := range s.byThread[threadID] {
		if match(m) {
			return m, true
		}
	}
	return Message{}, false
}

func isUserFor(key string) func(Message) bool {
	return func(m Message) bool {
		return m.SenderType == SenderUser && m.ClientMessageID != nil && *m.ClientMessageID == key
	}
}

func isReplyFor(key string) func(Message) bool {
	return func(m Message) bool {
		return m.SenderType == SenderAssistant && m.ResponseToClientMessageID != nil && *m.ResponseToClientMessageID == key
	}
}

func (s *MemoryStore) FindUserMessage(_ context.Context, threadID, key string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.find(threadID, isUserFor(key)); ok {
		return m, nil
	}
	return Message{}, ErrNoMessage
}

func (s *MemoryStore) FindAssistantReply(_ context.Context, threadID, key string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.find(threadID, isReplyFor(key)); ok {
		return m, nil
	}
	return Message{}, ErrNoMessage
}

func (s *MemoryStore) GetMessage(_ context.Context, threadID, messageID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.find(threadID, func(m Message) bool { return m.ID == messageID }); ok {
		return m, nil
	}
	return Message{}, ErrNoMessage
}

func (s *MemoryStore) InsertUserMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ClientMessageID != nil {
		if _, ok := s.find(m.ThreadID, isUserFor(*m.ClientMessageID)); ok {
			return ErrDuplicate
		}
	}
	s.append(m)
	return nil
}

func (s *MemoryStore) CommitAssistantReply(_ context.Context, reply Message) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reply.ParentMessageID == nil {
		return Message{}, false, ErrNoMessage
	}
	parent := *reply.ParentMessageID
	if _, ok := s.find(reply.ThreadID, func(m Message) bool { return m.ID == parent }); !ok {
		return Message{}, false, ErrNoMessage
	}
	if reply.ResponseToClientMessageID != nil {
		if existing, ok := s.find(reply.ThreadID, isReplyFor(*reply.ResponseToClientMessageID)); ok {
			return existing, true, nil
		}
	}
	s.append(reply)
	return reply, false, nil
}

// append keeps each thread sorted by id.
func (s *MemoryStore) append(m Message) {
	msgs := append(s.byThread[m.ThreadID], m)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	s.byThread[m.ThreadID] = msgs
}

func (s *MemoryStore) ListMessages(_ context.Context, threadID, before string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.byThread[threadID]
	end := len(msgs)
	if before != "" {
		end = sort.Search(len(msgs), func(i int) bool { return msgs[i].ID >= before })
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]Message, end-start)
	copy(out, msgs[start:end])
	return out, nil
}

func (s *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byThread, threadID)
	return nil
}
