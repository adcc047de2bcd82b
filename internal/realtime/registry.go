// Package realtime fans freshly inserted positions out to the websocket
// clients watching the spatial cells they land in.
package realtime

import "sync"

// Registry tracks which clients watch which cells. Both directions are
// kept under one lock so broadcast (cell to clients) and disconnect
// (client to cells) stay cheap and the cross-references never diverge.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[*Client]struct{}
	subs  map[*Client]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Client]struct{}),
		subs:  make(map[*Client]map[string]struct{}),
	}
}

// Register adds a connection with an empty subscription set.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[c] == nil {
		r.subs[c] = make(map[string]struct{})
	}
}

// UpdateSubscriptions replaces c's cell set with cells and returns which
// cells were joined and left. Both maps mutate inside one critical
// section, so any observer sees the membership maps in agreement.
func (r *Registry) UpdateSubscriptions(c *Client, cells map[string]struct{}) (joined, left []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.subs[c]
	if current == nil {
		current = make(map[string]struct{})
		r.subs[c] = current
	}

	for cell := range cells {
		if _, ok := current[cell]; ok {
			continue
		}
		current[cell] = struct{}{}
		room := r.rooms[cell]
		if room == nil {
			room = make(map[*Client]struct{})
			r.rooms[cell] = room
		}
		room[c] = struct{}{}
		joined = append(joined, cell)
	}

	for cell := range current {
		if _, ok := cells[cell]; ok {
			continue
		}
		delete(current, cell)
		if room := r.rooms[cell]; room != nil {
			delete(room, c)
			if len(room) == 0 {
				delete(r.rooms, cell)
			}
		}
		left = append(left, cell)
	}
	return joined, left
}

// Disconnect removes c from every room it held and forgets it. Rooms
// that become empty are dropped so the map does not accumulate dead
// cells as viewers roam.
func (r *Registry) Disconnect(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for cell := range r.subs[c] {
		if room := r.rooms[cell]; room != nil {
			delete(room, c)
			if len(room) == 0 {
				delete(r.rooms, cell)
			}
		}
	}
	delete(r.subs, c)
}

// Snapshot copies a cell's member set so broadcasters can iterate and
// write to sockets without holding the registry lock.
func (r *Registry) Snapshot(cell string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[cell]
	out := make([]*Client, 0, len(room))
	for c := range room {
		out = append(out, c)
	}
	return out
}
