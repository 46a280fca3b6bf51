package rooms

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCreateGeneratesValidIDs(t *testing.T) {
	r := NewRegistry()

	id, err := r.Create()
	require.NoError(t, err)
	require.Len(t, id, IDLength)
	for _, ch := range id {
		require.True(t, strings.ContainsRune(Alphabet, ch), "unexpected character %q in %s", ch, id)
	}
}

func TestCreateConcurrentIDsAreUnique(t *testing.T) {
	r := NewRegistry()

	const n = 10000
	ids := make([]string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Create()
			if err != nil {
				t.Errorf("Create failed: %v", err)
				return
			}
			// Keep the room alive so its id stays reserved.
			if _, err := r.Join(id, "conn-"+id); err != nil {
				t.Errorf("Join failed: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate room id %s", id)
		seen[id] = struct{}{}
	}
	require.Equal(t, n, r.Snapshot().TotalRooms)
}

func TestJoinUnknownRoom(t *testing.T) {
	r := NewRegistry()

	_, err := r.Join("NOPE00", "a")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinFullRoomLeavesMembershipUnchanged(t *testing.T) {
	r := NewRegistry()
	id, err := r.Create()
	require.NoError(t, err)

	info, err := r.Join(id, "a")
	require.NoError(t, err)
	require.Equal(t, 1, info.MemberCount)
	require.False(t, info.Full)

	info, err = r.Join(id, "b")
	require.NoError(t, err)
	require.Equal(t, 2, info.MemberCount)
	require.True(t, info.Full)

	_, err = r.Join(id, "c")
	require.ErrorIs(t, err, ErrRoomFull)

	require.Equal(t, []string{"a", "b"}, r.Members(id, ""))
	_, inRoom := r.RoomOf("c")
	require.False(t, inRoom)
}

func TestJoinMovesConnectionBetweenRooms(t *testing.T) {
	r := NewRegistry()
	first, err := r.Create()
	require.NoError(t, err)
	second, err := r.Create()
	require.NoError(t, err)

	_, err = r.Join(first, "a")
	require.NoError(t, err)
	_, err = r.Join(first, "b")
	require.NoError(t, err)

	_, err = r.Join(second, "a")
	require.NoError(t, err)

	require.Equal(t, []string{"b"}, r.Members(first, ""))
	require.Equal(t, []string{"a"}, r.Members(second, ""))

	roomID, ok := r.RoomOf("a")
	require.True(t, ok)
	require.Equal(t, second, roomID)
}

func TestJoinSameRoomTwiceIsNoop(t *testing.T) {
	r := NewRegistry()
	id, err := r.Create()
	require.NoError(t, err)

	_, err = r.Join(id, "a")
	require.NoError(t, err)
	info, err := r.Join(id, "a")
	require.NoError(t, err)
	require.Equal(t, 1, info.MemberCount)
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry()
	id, err := r.Create()
	require.NoError(t, err)

	_, err = r.Join(id, "a")
	require.NoError(t, err)
	_, err = r.Join(id, "b")
	require.NoError(t, err)

	r.Leave(id, "a")
	require.Equal(t, 1, r.Snapshot().TotalRooms)

	r.Leave(id, "b")
	stats := r.Snapshot()
	require.Zero(t, stats.TotalRooms)
	require.Empty(t, stats.Rooms)

	_, err = r.Join(id, "c")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestHandleDisconnect(t *testing.T) {
	r := NewRegistry()
	id, err := r.Create()
	require.NoError(t, err)
	_, err = r.Join(id, "a")
	require.NoError(t, err)

	r.HandleDisconnect("a")
	r.HandleDisconnect("never-joined")

	require.Zero(t, r.Snapshot().TotalRooms)
	_, ok := r.RoomOf("a")
	require.False(t, ok)
}

func TestSweepExpired(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now), WithTimeout(time.Hour))

	idle, err := r.Create()
	require.NoError(t, err)
	_, err = r.Join(idle, "a")
	require.NoError(t, err)

	active, err := r.Create()
	require.NoError(t, err)
	_, err = r.Join(active, "b")
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	require.True(t, r.Touch(active))

	clock.Advance(2 * time.Minute)
	removed := r.SweepExpired(clock.Now())
	require.Equal(t, []string{idle}, removed)

	stats := r.Snapshot()
	require.Equal(t, 1, stats.TotalRooms)
	require.Equal(t, active, stats.Rooms[0].ID)

	_, ok := r.RoomOf("a")
	require.False(t, ok, "members of a swept room must be released")
	_, ok = r.RoomOf("b")
	require.True(t, ok)
}

func TestTouchUnknownRoom(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Touch("ABC123"))
}

func TestSnapshotReportsAgeAndIdle(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now), WithMaxMembers(3))

	id, err := r.Create()
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	_, err = r.Join(id, "a")
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	before := r.Snapshot()
	after := r.Snapshot()
	require.Equal(t, before, after, "snapshot must not mutate state")

	require.Equal(t, 1, before.TotalMembers)
	require.Len(t, before.Rooms, 1)
	require.Equal(t, int64(15000), before.Rooms[0].AgeMillis)
	require.Equal(t, int64(5000), before.Rooms[0].IdleMillis)

	raw, err := json.Marshal(before.Rooms[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"roomId":"`+id+`","userCount":1,"age":15000,"lastActivity":5000}`, string(raw))
	require.Equal(t, 1, before.Rooms[0].MemberCount)
	require.Equal(t, 3, r.MaxMembers())
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
