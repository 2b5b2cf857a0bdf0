package sess

import (
	"container/heap"
	"sync"

	sessc "github.com/lybxkl/gmqttd/broker/core/session"
)

// mailbox 优先级邮箱。单消费者，Post并发安全。
// 同优先级按入箱次序出箱。
type mailbox struct {
	mu     sync.Mutex
	h      eventHeap
	seq    uint64
	closed bool
	notify chan struct{} // cap 1
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (mb *mailbox) Post(ev *event) error {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return sessc.ErrClosed
	}
	ev.pri = ev.kind.priority()
	ev.seq = mb.seq
	mb.seq++
	heap.Push(&mb.h, ev)
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
	return nil
}

// Take 阻塞取最高优先级事件，邮箱关闭且取空后返回false
func (mb *mailbox) Take() (*event, bool) {
	for {
		mb.mu.Lock()
		if mb.h.Len() > 0 {
			ev := heap.Pop(&mb.h).(*event)
			mb.mu.Unlock()
			return ev, true
		}
		closed := mb.closed
		mb.mu.Unlock()
		if closed {
			return nil, false
		}
		<-mb.notify
	}
}

func (mb *mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.h.Len()
}

// Close 关箱。已入箱事件仍会被取完，之后Take返回false。
func (mb *mailbox) Close() {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return
	}
	mb.closed = true
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].pri != h[j].pri {
		return h[i].pri > h[j].pri
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(*event))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}
