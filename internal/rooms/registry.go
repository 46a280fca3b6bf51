package rooms

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"
)

const (
	// IDLength is the number of characters in a room code.
	IDLength = 6

	// Alphabet is the set of characters room codes are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	DefaultMaxMembers    = 2
	DefaultTimeout       = 2 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

var (
	ErrRoomNotFound = errors.New("room does not exist")
	ErrRoomFull     = errors.New("room is full")
)

// Room is a short-lived rendezvous point for at most MaxMembers connections.
type Room struct {
	ID           string
	Members      map[string]struct{}
	CreatedAt    time.Time
	LastActivity time.Time
}

// JoinInfo is returned by a successful Join.
type JoinInfo struct {
	RoomID      string
	MemberCount int
	Full        bool
}

// RoomInfo is a read-only view of one room for diagnostics. Durations are
// whole milliseconds.
type RoomInfo struct {
	ID          string `json:"roomId"`
	MemberCount int    `json:"userCount"`
	AgeMillis   int64  `json:"age"`
	IdleMillis  int64  `json:"lastActivity"`
}

// Stats is a point-in-time snapshot of the registry.
type Stats struct {
	TotalRooms   int        `json:"totalRooms"`
	TotalMembers int        `json:"totalUsers"`
	Rooms        []RoomInfo `json:"rooms"`
}

// Registry owns room lifecycle and membership. It performs no I/O and is
// safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	// rooms maps room IDs to live rooms.
	rooms map[string]*Room

	// memberships maps a connection ID to the room it currently belongs to.
	memberships map[string]string

	maxMembers int
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxMembers sets the membership cap per room.
func WithMaxMembers(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxMembers = n
		}
	}
}

// WithTimeout sets how long a room may stay idle before a sweep removes it.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:       make(map[string]*Room),
		memberships: make(map[string]string),
		maxMembers:  DefaultMaxMembers,
		timeout:     DefaultTimeout,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxMembers returns the membership cap.
func (r *Registry) MaxMembers() int {
	return r.maxMembers
}

// Create allocates a room with a fresh code and no members.
func (r *Registry) Create() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id string
	for {
		candidate, err := generateID()
		if err != nil {
			return "", err
		}
		if _, taken := r.rooms[candidate]; !taken {
			id = candidate
			break
		}
	}

	now := r.now()
	r.rooms[id] = &Room{
		ID:           id,
		Members:      make(map[string]struct{}),
		CreatedAt:    now,
		LastActivity: now,
	}

	r.logger.Debug("room created", "room", id)
	return id, nil
}

// Join adds connID to the room. A connection belongs to at most one room,
// so any previous membership is dropped first.
func (r *Registry) Join(roomID, connID string) (JoinInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return JoinInfo{}, ErrRoomNotFound
	}

	if _, already := room.Members[connID]; already {
		room.LastActivity = r.now()
		return r.joinInfo(room), nil
	}

	if len(room.Members) >= r.maxMembers {
		return JoinInfo{}, ErrRoomFull
	}

	if previous, ok := r.memberships[connID]; ok {
		r.leaveLocked(previous, connID)
	}

	room.Members[connID] = struct{}{}
	room.LastActivity = r.now()
	r.memberships[connID] = roomID

	r.logger.Debug("member joined", "room", roomID, "conn", connID, "members", len(room.Members))
	return r.joinInfo(room), nil
}

func (r *Registry) joinInfo(room *Room) JoinInfo {
	return JoinInfo{
		RoomID:      room.ID,
		MemberCount: len(room.Members),
		Full:        len(room.Members) >= r.maxMembers,
	}
}

// Leave removes connID from the room and deletes the room once it is empty.
func (r *Registry) Leave(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomID, connID)
}

func (r *Registry) leaveLocked(roomID, connID string) {
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}

	delete(room.Members, connID)
	if r.memberships[connID] == roomID {
		delete(r.memberships, connID)
	}

	if len(room.Members) == 0 {
		delete(r.rooms, roomID)
		r.logger.Debug("room deleted", "room", roomID)
	}
}

// HandleDisconnect drops the connection from whatever room it is in.
func (r *Registry) HandleDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if roomID, ok := r.memberships[connID]; ok {
		r.leaveLocked(roomID, connID)
	}
}

// Touch refreshes the room's activity timestamp. It reports whether the
// room exists.
func (r *Registry) Touch(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	room.LastActivity = r.now()
	return true
}

// Members returns the members of roomID other than exclude.
func (r *Registry) Members(roomID, exclude string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	members := make([]string, 0, len(room.Members))
	for id := range room.Members {
		if id != exclude {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return members
}

// RoomOf returns the room connID currently belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.memberships[connID]
	return roomID, ok
}

// SweepExpired removes every room idle for longer than the timeout and
// returns the removed IDs.
func (r *Registry) SweepExpired(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, room := range r.rooms {
		if now.Sub(room.LastActivity) <= r.timeout {
			continue
		}
		for connID := range room.Members {
			delete(r.memberships, connID)
		}
		delete(r.rooms, id)
		removed = append(removed, id)
	}

	if len(removed) > 0 {
		sort.Strings(removed)
		r.logger.Info("expired rooms removed", "count", len(removed))
	}
	return removed
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepExpired(r.now())
		}
	}
}

// Snapshot returns a side-effect free view of all live rooms.
func (r *Registry) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	stats := Stats{
		TotalRooms:   len(r.rooms),
		TotalMembers: len(r.memberships),
		Rooms:        make([]RoomInfo, 0, len(r.rooms)),
	}
	for _, room := range r.rooms {
		stats.Rooms = append(stats.Rooms, RoomInfo{
			ID:          room.ID,
			MemberCount: len(room.Members),
			AgeMillis:   now.Sub(room.CreatedAt).Milliseconds(),
			IdleMillis:  now.Sub(room.LastActivity).Milliseconds(),
		})
	}
	sort.Slice(stats.Rooms, func(i, j int) bool {
		return stats.Rooms[i].ID < stats.Rooms[j].ID
	})
	return stats
}

// generateID returns a random room code drawn from Alphabet.
func generateID() (string, error) {
	alphabetSize := big.NewInt(int64(len(Alphabet)))
	id := make([]byte, IDLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		id[i] = Alphabet[n.Int64()]
	}
	return string(id), nil
}
