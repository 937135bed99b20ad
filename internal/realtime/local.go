package realtime

import (
	"context"
	"sync"
	"time"
)

// LocalDirectory is the in-process Directory used by a single instance.
type LocalDirectory struct {
	mu    sync.RWMutex
	rooms map[string]map[Member]struct{}
}

func NewLocalDirectory() *LocalDirectory {
	return &LocalDirectory{rooms: make(map[string]map[Member]struct{})}
}

func (d *LocalDirectory) Join(_ context.Context, room string, m Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[Member]struct{})
		d.rooms[room] = members
	}
	members[m] = struct{}{}
	return nil
}

func (d *LocalDirectory) Leave(_ context.Context, room string, m Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if members, ok := d.rooms[room]; ok {
		delete(members, m)
		if len(members) == 0 {
			delete(d.rooms, room)
		}
	}
	return nil
}

func (d *LocalDirectory) Contains(_ context.Context, room, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for m := range d.rooms[room] {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d *LocalDirectory) Occupied(_ context.Context, room string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms[room]) > 0, nil
}

// LocalPresence tracks live sockets per user in process memory.
type LocalPresence struct {
	mu      sync.Mutex
	sockets map[string]map[string]struct{}
}

func NewLocalPresence() *LocalPresence {
	return &LocalPresence{sockets: make(map[string]map[string]struct{})}
}

func (p *LocalPresence) Connect(_ context.Context, userID, socketID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sockets[userID]
	if !ok {
		set = make(map[string]struct{})
		p.sockets[userID] = set
	}
	set[socketID] = struct{}{}
	return len(set) == 1, nil
}

func (p *LocalPresence) Disconnect(_ context.Context, userID, socketID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sockets[userID]
	if !ok {
		return false, nil
	}
	if _, present := set[socketID]; !present {
		return false, nil
	}
	delete(set, socketID)
	if len(set) == 0 {
		delete(p.sockets, userID)
		return true, nil
	}
	return false, nil
}

// Refresh is a no-op: local sockets vanish with the process.
func (p *LocalPresence) Refresh(context.Context, string, string) error {
	return nil
}

func (p *LocalPresence) Online(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sockets[userID]) > 0, nil
}

type invite struct {
	from, to string
}

// LocalCalls remembers invites and the users on a call in process memory.
type LocalCalls struct {
	mu      sync.Mutex
	active  map[string]struct{}
	ringing map[invite]time.Time
	now     func() time.Time
}

func NewLocalCalls() *LocalCalls {
	return &LocalCalls{
		active:  make(map[string]struct{}),
		ringing: make(map[invite]time.Time),
		now:     time.Now,
	}
}

func (c *LocalCalls) Ring(_ context.Context, from, to string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for inv, expires := range c.ringing {
		if !now.Before(expires) {
			delete(c.ringing, inv)
		}
	}
	c.ringing[invite{from, to}] = now.Add(RingTimeout)
	return nil
}

func (c *LocalCalls) Answer(_ context.Context, from, to string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inv := invite{from, to}
	expires, ok := c.ringing[inv]
	if !ok {
		return false, nil
	}
	delete(c.ringing, inv)
	return c.now().Before(expires), nil
}

func (c *LocalCalls) Busy(_ context.Context, userIDs ...string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		if _, ok := c.active[id]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (c *LocalCalls) Begin(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		c.active[id] = struct{}{}
	}
	return nil
}

// Refresh is a no-op: local call state vanishes with the process.
func (c *LocalCalls) Refresh(context.Context, string) error {
	return nil
}

func (c *LocalCalls) End(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.active, id)
	}
	return nil
}
