package chat

import "sync"

type invite struct {
	from, to string
}

// pendingInvites remembers which requests are still open so Accept and
// Decline can only answer something that was actually asked.
type pendingInvites struct {
	mu      sync.Mutex
	entries map[invite]struct{}
}

func newPendingInvites() *pendingInvites {
	return &pendingInvites{entries: make(map[invite]struct{})}
}

func (p *pendingInvites) add(from, to string) {
	p.mu.Lock()
	p.entries[invite{from, to}] = struct{}{}
	p.mu.Unlock()
}

func (p *pendingInvites) has(from, to string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[invite{from, to}]
	return ok
}

func (p *pendingInvites) take(from, to string) {
	p.mu.Lock()
	delete(p.entries, invite{from, to})
	p.mu.Unlock()
}

// dropSession removes every invite sent or received by id.
func (p *pendingInvites) dropSession(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.entries {
		if k.from == id || k.to == id {
			delete(p.entries, k)
		}
	}
}

func (p *pendingInvites) reset() {
	p.mu.Lock()
	clear(p.entries)
	p.mu.Unlock()
}

func (p *pendingInvites) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
