package profiler

import (
	"sync"

	"github.com/causalprof/profilomatic/pkg/collections"
)

// messageQueue is the multi-producer / single-consumer queue behind
// HandleMessage: the caller's goroutine only ever appends, and the
// profiler goroutine only ever drains, so the mutex is held only
// across the append/drain itself, built on
// the generic FIFO queue this module already carries for other
// high-throughput internal buffers. Contention is limited to a single
// append; application goroutines never scan or block on a full queue.
type messageQueue struct {
	mu   sync.Mutex
	q    *collections.Queue[*MessageInfo]
	size int
}

func newMessageQueue() *messageQueue {
	return &messageQueue{q: collections.NewQueue[*MessageInfo](256)}
}

func (mq *messageQueue) push(m *MessageInfo) {
	mq.mu.Lock()
	mq.q.Enqueue(m)
	mq.size++
	mq.mu.Unlock()
}

// drainAll removes and returns every currently queued message, in
// enqueue order, leaving the queue empty. Used once per scheduler tick.
func (mq *messageQueue) drainAll() []*MessageInfo {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	if mq.q.IsEmpty() {
		return nil
	}
	out := make([]*MessageInfo, 0, mq.q.Len())
	for {
		v, ok := mq.q.Dequeue()
		if !ok {
			break
		}
		out = append(out, v)
	}
	mq.q.Clear()
	mq.size = 0
	return out
}

func (mq *messageQueue) len() int {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return mq.q.Len()
}
