package mqtt

import "github.com/sweeney/scalextric-sensor/internal/logger"

// DefaultBufferSize is how many outgoing messages are held while offline.
const DefaultBufferSize = 100

// pending is a serialized message waiting for the broker.
type pending struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a bounded FIFO of pending messages. When full, the oldest
// message is overwritten. Callers synchronize access.
type outbox struct {
	slots   []pending
	next    int // write position
	size    int
	dropped int // overwritten since last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{slots: make([]pending, capacity)}
}

func (o *outbox) push(m pending) {
	if o.size == len(o.slots) {
		if o.dropped == 0 {
			logger.Named("mqtt").Warn().
				Int("capacity", len(o.slots)).
				Msg("offline buffer full, dropping oldest")
		}
		o.dropped++
	} else {
		o.size++
	}
	o.slots[o.next] = m
	o.next = (o.next + 1) % len(o.slots)
}

// drain returns pending messages oldest first and empties the outbox.
// The second result is how many messages were lost to overflow.
func (o *outbox) drain() ([]pending, int) {
	if o.size == 0 {
		return nil, 0
	}
	n := len(o.slots)
	out := make([]pending, 0, o.size)
	for i := o.next - o.size + n; len(out) < o.size; i++ {
		out = append(out, o.slots[i%n])
	}
	dropped := o.dropped
	o.next, o.size, o.dropped = 0, 0, 0
	clear(o.slots)
	return out, dropped
}

func (o *outbox) len() int { return o.size }

// pop removes and returns the oldest pending message.
func (o *outbox) pop() (pending, bool) {
	if o.size == 0 {
		return pending{}, false
	}
	n := len(o.slots)
	i := (o.next - o.size + n) % n
	m := o.slots[i]
	o.slots[i] = pending{}
	o.size--
	if o.size == 0 {
		o.dropped = 0
	}
	return m, true
}

// unshift puts a message back at the head of the queue. A full outbox
// drops it, as it would be the oldest entry anyway.
func (o *outbox) unshift(m pending) bool {
	n := len(o.slots)
	if o.size == n {
		o.dropped++
		return false
	}
	o.slots[(o.next-o.size-1+2*n)%n] = m
	o.size++
	return true
}
