package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	v1 "relay/shared/contracts/realtime/v1"
)

type countingObserver struct {
	rooms, conns, evicted atomic.Int64
}

func (o *countingObserver) RoomOpened()         { o.rooms.Add(1) }
func (o *countingObserver) RoomClosed()         { o.rooms.Add(-1) }
func (o *countingObserver) ConnectionAdmitted() { o.conns.Add(1) }
func (o *countingObserver) ConnectionRemoved()  { o.conns.Add(-1) }
func (o *countingObserver) Evicted()            { o.evicted.Add(1) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// drain returns every frame currently queued on c.
func drain(t *testing.T, c *Conn) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case f := <-c.Send():
			var m map[string]any
			if err := json.Unmarshal(f, &m); err != nil {
				t.Fatalf("bad frame %q: %v", f, err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func hasSystem(frames []map[string]any, event, connID string) bool {
	for _, f := range frames {
		if f["type"] == v1.TypeSystem && f["event"] == event && f["connection_id"] == connID {
			return true
		}
	}
	return false
}

func TestAdmitRemove_DeletesEmptyRoom(t *testing.T) {
	obs := &countingObserver{}
	reg := NewRegistry(testLogger(), obs)
	c := NewConn("c1", "u1", "t1", 16)

	reg.Admit("t1", c)
	if reg.Rooms() != 1 {
		t.Fatalf("rooms=%d want 1", reg.Rooms())
	}
	if !reg.Remove("t1", c) {
		t.Fatalf("first Remove should report true")
	}
	if reg.Remove("t1", c) {
		t.Fatalf("second Remove should report false")
	}
	if reg.Rooms() != 0 {
		t.Fatalf("rooms=%d want 0", reg.Rooms())
	}
	if obs.rooms.Load() != 0 || obs.conns.Load() != 0 {
		t.Fatalf("gauges not balanced: rooms=%d conns=%d", obs.rooms.Load(), obs.conns.Load())
	}

	// Broadcasting into the deleted room is a no-op.
	reg.Broadcast("t1", v1.Frame(`{"type":"chat"}`))
	if reg.Rooms() != 0 {
		t.Fatalf("broadcast must not create a room")
	}
}

func TestBroadcast_MissingRoomNoop(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	reg.Broadcast("nope", v1.Frame(`{"type":"chat"}`))
	if reg.Rooms() != 0 || reg.Members("nope") != nil {
		t.Fatalf("missing room should stay missing")
	}
}

func TestAdmit_AnnouncesJoinedAndLeft(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	a := NewConn("a", "u1", "t1", 16)
	b := NewConn("b", "u2", "t1", 16)

	reg.Admit("t1", a)
	if got := drain(t, a); !hasSystem(got, v1.EventJoined, "a") {
		t.Fatalf("a should see its own join: %v", got)
	}

	reg.Admit("t1", b)
	if got := drain(t, a); !hasSystem(got, v1.EventJoined, "b") {
		t.Fatalf("a should see b join: %v", got)
	}
	if got := drain(t, b); !hasSystem(got, v1.EventJoined, "b") {
		t.Fatalf("b should see its own join: %v", got)
	}

	reg.Remove("t1", b)
	if got := drain(t, a); !hasSystem(got, v1.EventLeft, "b") {
		t.Fatalf("a should see b leave: %v", got)
	}
	if got := drain(t, b); len(got) != 0 {
		t.Fatalf("removed connection got frames: %v", got)
	}
}

func TestBroadcast_PerRecipientOrder(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	c := NewConn("c", "u1", "t1", 64)
	reg.Admit("t1", c)
	drain(t, c)

	for i := 0; i < 20; i++ {
		reg.Broadcast("t1", v1.Frame(fmt.Sprintf(`{"type":"chat","n":%d}`, i)))
	}
	got := drain(t, c)
	if len(got) != 20 {
		t.Fatalf("got %d frames want 20", len(got))
	}
	for i, f := range got {
		if int(f["n"].(float64)) != i {
			t.Fatalf("frame %d out of order: %v", i, f)
		}
	}
}

func TestBroadcast_EvictsSlowConsumer(t *testing.T) {
	obs := &countingObserver{}
	reg := NewRegistry(testLogger(), obs)

	slow := NewConn("slow", "u1", "t1", 1)
	reg.Admit("t1", slow) // its joined frame fills the queue

	fast := NewConn("fast", "u2", "t1", 16)
	reg.Admit("t1", fast)

	select {
	case <-slow.Done():
	default:
		t.Fatalf("slow consumer should be closed")
	}
	if m := reg.Members("t1"); len(m) != 1 || m[0] != "fast" {
		t.Fatalf("members=%v want [fast]", m)
	}
	if obs.evicted.Load() != 1 {
		t.Fatalf("evicted=%d want 1", obs.evicted.Load())
	}
	if got := drain(t, fast); !hasSystem(got, v1.EventLeft, "slow") {
		t.Fatalf("fast should see slow leave: %v", got)
	}
	if reg.Remove("t1", slow) {
		t.Fatalf("evicted connection is already removed")
	}
}

func TestRegistry_ConcurrentAdmitRemove(t *testing.T) {
	obs := &countingObserver{}
	reg := NewRegistry(testLogger(), obs)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewConn(fmt.Sprintf("c%d", i), "u", "t1", 256)
			for j := 0; j < 20; j++ {
				reg.Admit("t1", c)
				reg.Broadcast("t1", v1.Frame(`{"type":"typing"}`))
				reg.Remove("t1", c)
				for len(c.Send()) > 0 {
					<-c.Send()
				}
			}
		}(i)
	}
	wg.Wait()

	if reg.Rooms() != 0 {
		t.Fatalf("rooms=%d want 0", reg.Rooms())
	}
	if obs.rooms.Load() != 0 || obs.conns.Load() != 0 {
		t.Fatalf("gauges not balanced: rooms=%d conns=%d", obs.rooms.Load(), obs.conns.Load())
	}
}
