package sess

import (
	"sync"

	"github.com/lybxkl/gmqttd/broker/core/message"
	sessc "github.com/lybxkl/gmqttd/broker/core/session"
	topicc "github.com/lybxkl/gmqttd/broker/core/topic"
	"github.com/lybxkl/gmqttd/util/cron"
)

// fakeClient 记录会话下发的一切，供断言
type fakeClient struct {
	id string

	mu        sync.Mutex
	delivered []*message.PublishMessage
	pubrels   []uint16
	kicked    []string

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: id, done: make(chan struct{})}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Deliver(msg *message.PublishMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, msg)
	return nil
}

func (c *fakeClient) RedeliverPubrel(pktid uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubrels = append(c.pubrels, pktid)
	return nil
}

func (c *fakeClient) Kickout(reason string, _ sessc.Client) {
	c.mu.Lock()
	c.kicked = append(c.kicked, reason)
	c.mu.Unlock()
	c.down()
}

func (c *fakeClient) Done() <-chan struct{} { return c.done }

func (c *fakeClient) down() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *fakeClient) deliveredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

func (c *fakeClient) deliveredAt(i int) *message.PublishMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered[i]
}

func (c *fakeClient) pubrelIds() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint16, len(c.pubrels))
	copy(out, c.pubrels)
	return out
}

func (c *fakeClient) kickedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.kicked)
}

// fakeTimers 不真正调度，任务留给测试手动触发
type fakeTimers struct {
	mu        sync.Mutex
	tasks     map[string]*cron.DelayTask
	cancelled []string
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{tasks: make(map[string]*cron.DelayTask)}
}

func (f *fakeTimers) Run(task *cron.DelayTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeTimers) Cancel(id cron.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return
	}
	delete(f.tasks, id)
	f.cancelled = append(f.cancelled, id)
}

// fire 模拟任务到期
func (f *fakeTimers) fire(id string) bool {
	f.mu.Lock()
	task, ok := f.tasks[id]
	delete(f.tasks, id)
	f.mu.Unlock()
	if !ok {
		return false
	}
	task.Fn(task.Data)
	return true
}

func (f *fakeTimers) armed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[id]
	return ok
}

func (f *fakeTimers) wasCancelled(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cancelled {
		if c == id {
			return true
		}
	}
	return false
}

// fakeRouter 记录路由调用
type fakeRouter struct {
	mu            sync.Mutex
	published     []*message.PublishMessage
	subscribed    []string
	unsubscribed  []string
	retained      map[string][]*message.PublishMessage
	retainedCalls int
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{retained: make(map[string][]*message.PublishMessage)}
}

func (r *fakeRouter) Subscribe(sub topicc.Sub, _ interface{}) (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, string(sub.Topic))
	return sub.Qos, nil
}

func (r *fakeRouter) Unsubscribe(topic []byte, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribed = append(r.unsubscribed, string(topic))
	return nil
}

func (r *fakeRouter) Subscribers(_ []byte, _ byte, _ *[]interface{}, _ *[]byte) error {
	return nil
}

func (r *fakeRouter) Publish(msg *message.PublishMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, msg)
	return nil
}

func (r *fakeRouter) Retain(msg *message.PublishMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retained[string(msg.Topic())] = []*message.PublishMessage{msg.Copy()}
	return nil
}

func (r *fakeRouter) Retained(topic []byte, msgs *[]*message.PublishMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retainedCalls++
	*msgs = append(*msgs, r.retained[string(topic)]...)
	return nil
}

func (r *fakeRouter) Close() error { return nil }

func (r *fakeRouter) publishedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func (r *fakeRouter) retainedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retainedCalls
}

func (r *fakeRouter) unsubscribedTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.unsubscribed))
	copy(out, r.unsubscribed)
	return out
}
