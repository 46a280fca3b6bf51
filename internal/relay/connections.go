package relay

import "sync"

// ConnectionTable tracks live connections by id. The hub only reaches other
// connections through it.
type ConnectionTable interface {
	Add(c *Client)
	Remove(id string)
	Get(id string) (*Client, bool)
	Len() int
}

// Connections is the default mutex-protected ConnectionTable.
type Connections struct {
	mu    sync.RWMutex
	conns map[string]*Client
}

func NewConnections() *Connections {
	return &Connections{conns: make(map[string]*Client)}
}

func (t *Connections) Add(c *Client) {
	t.mu.Lock()
	t.conns[c.id] = c
	t.mu.Unlock()
}

func (t *Connections) Remove(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

func (t *Connections) Get(id string) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

func (t *Connections) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

var _ ConnectionTable = (*Connections)(nil)
