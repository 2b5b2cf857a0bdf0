package sess

import (
	"sync"

	"github.com/eapache/queue"
	uatomic "go.uber.org/atomic"

	"github.com/lybxkl/gmqttd/broker/core/message"
	sessc "github.com/lybxkl/gmqttd/broker/core/session"
	. "github.com/lybxkl/gmqttd/common/log"
)

var _ sessc.MQueue = (*memQueue)(nil)

// memQueue 有界FIFO消息队列。满时丢最新一条并计数。
// limit<=0 表示不限制。
type memQueue struct {
	mu      sync.Mutex
	buf     *queue.Queue
	limit   int
	dropped uatomic.Uint64
}

func NewMemQueue(limit int) sessc.MQueue {
	return &memQueue{
		buf:   queue.New(),
		limit: limit,
	}
}

func (q *memQueue) Enqueue(msg *message.PublishMessage) bool {
	q.mu.Lock()
	if q.limit > 0 && q.buf.Length() >= q.limit {
		q.mu.Unlock()
		q.dropped.Inc()
		Log.Warnf("mqueue: full(limit=%d), drop %s", q.limit, msg)
		return false
	}
	q.buf.Add(msg)
	q.mu.Unlock()
	return true
}

func (q *memQueue) Dequeue() (*message.PublishMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.buf.Length() == 0 {
		return nil, false
	}
	return q.buf.Remove().(*message.PublishMessage), true
}

func (q *memQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Length()
}

func (q *memQueue) Dropped() uint64 {
	return q.dropped.Load()
}
