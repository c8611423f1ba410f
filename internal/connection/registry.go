package connection

import (
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Conn.Send after the connection has closed.
	ErrClosed = errors.New("connection: closed")

	// ErrNotBound is returned when no live connection serves a device.
	ErrNotBound = errors.New("connection: device not connected")
)

// Conn is a live device connection as seen by the registry and dispatcher.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string

	// Send queues v for delivery as one JSON frame. It returns ErrClosed
	// once the connection has closed and never blocks on the network.
	Send(v any) error

	// Open reports whether the connection still accepts frames.
	Open() bool
}

// Observer is told when a device gains or loses its connection.
type Observer interface {
	DeviceOnline(devicePK int64)
	DeviceOffline(devicePK int64)
}

// Registry is a lock-protected map from device primary key to connection.
type Registry struct {
	mu        sync.Mutex
	conns     map[int64]Conn
	observers []Observer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]Conn)}
}

// AddObserver registers o for presence changes. Must be called before use.
func (r *Registry) AddObserver(o Observer) {
	r.observers = append(r.observers, o)
}

// Bind maps every id to c, replacing whatever connection held it.
func (r *Registry) Bind(c Conn, ids []int64) {
	r.mu.Lock()
	var fresh []int64
	for _, id := range ids {
		if _, held := r.conns[id]; !held {
			fresh = append(fresh, id)
		}
		r.conns[id] = c
	}
	r.mu.Unlock()

	for _, o := range r.observers {
		for _, id := range fresh {
			o.DeviceOnline(id)
		}
	}
}

// Unbind removes each id that still maps to c and returns the ids removed.
// Ids already taken over by a newer connection are left alone.
func (r *Registry) Unbind(c Conn, ids []int64) []int64 {
	r.mu.Lock()
	var removed []int64
	for _, id := range ids {
		if cur, ok := r.conns[id]; ok && cur == c {
			delete(r.conns, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	for _, o := range r.observers {
		for _, id := range removed {
			o.DeviceOffline(id)
		}
	}
	return removed
}

// Lookup returns the connection serving devicePK.
func (r *Registry) Lookup(devicePK int64) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[devicePK]
	return c, ok
}

// IsConnected reports whether devicePK has an open connection.
func (r *Registry) IsConnected(devicePK int64) bool {
	c, ok := r.Lookup(devicePK)
	return ok && c.Open()
}

// Len returns the number of bound device ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
