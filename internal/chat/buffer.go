package chat

import "sync"

// MaxBufferMessages is the number of recent lines retained per pair.
const MaxBufferMessages = 5

// BufferedMessage is one relayed chat line.
type BufferedMessage struct {
	From string `json:"from"` // sender session ID
	Text string `json:"text"`
	Ts   int64  `json:"ts"` // unix ms
}

// pairKey identifies a pair regardless of argument order.
type pairKey struct {
	lo, hi string
}

func keyOf(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// MessageBuffer keeps the last MaxBufferMessages lines exchanged by each
// pair so a report can carry recent context. Safe for concurrent use.
type MessageBuffer struct {
	mu      sync.RWMutex
	buffers map[pairKey]*ringBuffer
}

type ringBuffer struct {
	items []BufferedMessage
	pos   int
	count int
}

// NewMessageBuffer creates an empty MessageBuffer.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{buffers: make(map[pairKey]*ringBuffer)}
}

// Add appends msg to the pair's ring, overwriting the oldest line when full.
func (mb *MessageBuffer) Add(a, b string, msg BufferedMessage) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	k := keyOf(a, b)
	rb, ok := mb.buffers[k]
	if !ok {
		rb = &ringBuffer{items: make([]BufferedMessage, MaxBufferMessages)}
		mb.buffers[k] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxBufferMessages
	if rb.count < MaxBufferMessages {
		rb.count++
	}
}

// Get returns the pair's lines oldest first. The result is never nil.
func (mb *MessageBuffer) Get(a, b string) []BufferedMessage {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	rb, ok := mb.buffers[keyOf(a, b)]
	if !ok {
		return []BufferedMessage{}
	}

	out := make([]BufferedMessage, rb.count)
	start := (rb.pos - rb.count + MaxBufferMessages) % MaxBufferMessages
	for i := range out {
		out[i] = rb.items[(start+i)%MaxBufferMessages]
	}
	return out
}

// Remove drops the pair's buffer.
func (mb *MessageBuffer) Remove(a, b string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.buffers, keyOf(a, b))
}

// RemoveSession drops every buffer that involves sessionID.
func (mb *MessageBuffer) RemoveSession(sessionID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for k := range mb.buffers {
		if k.lo == sessionID || k.hi == sessionID {
			delete(mb.buffers, k)
		}
	}
}

// Len returns the number of pairs with buffered lines.
func (mb *MessageBuffer) Len() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.buffers)
}

// Reset drops every buffer.
func (mb *MessageBuffer) Reset() {
	mb.mu.Lock()
	mb.buffers = make(map[pairKey]*ringBuffer)
	mb.mu.Unlock()
}
