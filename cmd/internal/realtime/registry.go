package realtime

import (
	"log/slog"
	"sync"
	"time"

	v1 "relay/shared/contracts/realtime/v1"
)

// Observer receives registry gauges and counters.
type Observer interface {
	RoomOpened()
	RoomClosed()
	ConnectionAdmitted()
	ConnectionRemoved()
	Evicted()
}

type nopObserver struct{}

func (nopObserver) RoomOpened()         {}
func (nopObserver) RoomClosed()         {}
func (nopObserver) ConnectionAdmitted() {}
func (nopObserver) ConnectionRemoved()  {}
func (nopObserver) Evicted()            {}

// Registry tracks the live connections of every thread room.
//
// The registry mutex guards only the room map. Membership is guarded by each
// room's own mutex, and no room lock is held while a frame is enqueued.
type Registry struct {
	log *slog.Logger
	obs Observer
	now func() time.Time

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	mu      sync.Mutex
	members map[*Conn]struct{}
	// closed is set when the room was emptied and dropped from the map.
	closed bool
}

// NewRegistry builds an empty registry. obs may be nil.
func NewRegistry(log *slog.Logger, obs Observer) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Registry{
		log:   log,
		obs:   obs,
		now:   func() time.Time { return time.Now().UTC() },
		rooms: make(map[string]*room),
	}
}

func (r *Registry) roomFor(threadID string, create bool) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[threadID]
	if !ok && create {
		rm = &room{members: make(map[*Conn]struct{})}
		r.rooms[threadID] = rm
		r.obs.RoomOpened()
	}
	return rm
}

// Admit adds c to the thread's room, creating the room when absent, and
// announces the join to every member including c.
func (r *Registry) Admit(threadID string, c *Conn) {
	for {
		rm := r.roomFor(threadID, true)

		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last Remove; the map entry is already gone.
			rm.mu.Unlock()
			continue
		}
		rm.members[c] = struct{}{}
		members := snapshot(rm)
		rm.mu.Unlock()

		r.obs.ConnectionAdmitted()
		r.log.Debug("ws.room.admit", "thread_id", threadID, "connection_id", c.ID, "user_id", c.UserID, "members", len(members))
		r.deliver(threadID, members, r.systemFrame(v1.EventJoined, threadID, c))
		return
	}
}

// Remove drops c from the thread's room. It reports true only for the call
// that actually removed it. An emptied room is deleted; otherwise the
// remaining members are told that c left.
func (r *Registry) Remove(threadID string, c *Conn) bool {
	rm := r.roomFor(threadID, false)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	if _, ok := rm.members[c]; !ok {
		rm.mu.Unlock()
		return false
	}
	delete(rm.members, c)
	members := snapshot(rm)
	if len(members) == 0 {
		rm.closed = true
		r.mu.Lock()
		if r.rooms[threadID] == rm {
			delete(r.rooms, threadID)
		}
		r.mu.Unlock()
		r.obs.RoomClosed()
	}
	rm.mu.Unlock()

	r.obs.ConnectionRemoved()
	r.log.Debug("ws.room.remove", "thread_id", threadID, "connection_id", c.ID, "members", len(members))
	if len(members) > 0 {
		r.deliver(threadID, members, r.systemFrame(v1.EventLeft, threadID, c))
	}
	return true
}

// Broadcast enqueues f for every member of the thread's room. It never
// blocks: members that cannot take the frame are evicted. A missing room is
// a no-op.
func (r *Registry) Broadcast(threadID string, f v1.Frame) {
	rm := r.roomFor(threadID, false)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	members := snapshot(rm)
	rm.mu.Unlock()

	r.deliver(threadID, members, f)
}

// Rooms reports the number of live rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Members reports the connection ids currently in the thread's room.
func (r *Registry) Members(threadID string) []string {
	rm := r.roomFor(threadID, false)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out := make([]string, 0, len(rm.members))
	for c := range rm.members {
		out = append(out, c.ID)
	}
	return out
}

func (r *Registry) deliver(threadID string, members []*Conn, f v1.Frame) {
	if f == nil {
		return
	}
	for _, c := range members {
		if c.enqueue(f) {
			continue
		}
		r.evict(threadID, c)
	}
}

func (r *Registry) evict(threadID string, c *Conn) {
	if !c.closed() {
		r.obs.Evicted()
		r.log.Warn("ws.evict.slow_consumer", "thread_id", threadID, "connection_id", c.ID, "user_id", c.UserID)
	}
	r.Remove(threadID, c)
	c.Close()
}

func (r *Registry) systemFrame(event, threadID string, c *Conn) v1.Frame {
	f, err := v1.Encode(v1.NewSystem(event, threadID, c.UserID, c.ID, r.now()))
	if err != nil {
		r.log.Error("ws.encode.fail", "event", event, "err", err)
		return nil
	}
	return f
}

func snapshot(rm *room) []*Conn {
	out := make([]*Conn, 0, len(rm.members))
	for c := range rm.members {
		out = append(out, c)
	}
	return out
}
