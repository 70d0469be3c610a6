package signaling

import "sync"

// outbox is a byte-bounded FIFO of encoded frames waiting for a connection's
// writer. push never blocks, so a slow reader cannot stall whoever is
// delivering to it.
type outbox struct {
	mu     sync.Mutex
	ready  *sync.Cond
	closed bool

	limit  int
	size   int
	frames [][]byte
}

func newOutbox(limit int) *outbox {
	o := &outbox{limit: limit}
	o.ready = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOutboxClosed
	}
	if o.size+len(frame) > o.limit {
		return ErrSendQueueFull
	}
	o.frames = append(o.frames, frame)
	o.size += len(frame)
	o.ready.Signal()
	return nil
}

// pop blocks until a frame is queued. It returns false once the outbox is
// closed; frames still queued at that point are discarded.
func (o *outbox) pop() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.frames) == 0 && !o.closed {
		o.ready.Wait()
	}
	if o.closed {
		return nil, false
	}
	frame := o.frames[0]
	o.frames[0] = nil
	o.frames = o.frames[1:]
	o.size -= len(frame)
	return frame, true
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.frames = nil
	o.size = 0
	o.mu.Unlock()
	o.ready.Broadcast()
}
