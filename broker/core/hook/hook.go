package hook

import (
	"sync"

	"github.com/lybxkl/gmqttd/broker/core/message"
	"github.com/lybxkl/gmqttd/broker/core/topic"
)

// SubscribeHook 订阅前过滤，可增删改订阅项，返回nil表示全部拒绝
type SubscribeHook func(cid string, subs []topic.Sub) []topic.Sub

// SubscribedHook 订阅完成通知
type SubscribedHook func(cid string, subs []topic.Sub)

// UnsubscribeHook 取消订阅前过滤
type UnsubscribeHook func(cid string, topics [][]byte) [][]byte

// MsgAckedHook 出站qos1/2消息被确认
type MsgAckedHook func(cid string, msg *message.PublishMessage)

// Bus 钩子总线。未注册的钩子视为恒等，过滤类钩子按注册顺序折叠。
type Bus struct {
	mu          sync.RWMutex
	subscribe   []SubscribeHook
	subscribed  []SubscribedHook
	unsubscribe []UnsubscribeHook
	msgAcked    []MsgAckedHook
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) OnSubscribe(h SubscribeHook) {
	b.mu.Lock()
	b.subscribe = append(b.subscribe, h)
	b.mu.Unlock()
}

func (b *Bus) OnSubscribed(h SubscribedHook) {
	b.mu.Lock()
	b.subscribed = append(b.subscribed, h)
	b.mu.Unlock()
}

func (b *Bus) OnUnsubscribe(h UnsubscribeHook) {
	b.mu.Lock()
	b.unsubscribe = append(b.unsubscribe, h)
	b.mu.Unlock()
}

func (b *Bus) OnMsgAcked(h MsgAckedHook) {
	b.mu.Lock()
	b.msgAcked = append(b.msgAcked, h)
	b.mu.Unlock()
}

func (b *Bus) ApplySubscribe(cid string, subs []topic.Sub) []topic.Sub {
	b.mu.RLock()
	hs := b.subscribe
	b.mu.RUnlock()
	for _, h := range hs {
		subs = h(cid, subs)
		if len(subs) == 0 {
			return nil
		}
	}
	return subs
}

func (b *Bus) FireSubscribed(cid string, subs []topic.Sub) {
	b.mu.RLock()
	hs := b.subscribed
	b.mu.RUnlock()
	for _, h := range hs {
		h(cid, subs)
	}
}

func (b *Bus) ApplyUnsubscribe(cid string, topics [][]byte) [][]byte {
	b.mu.RLock()
	hs := b.unsubscribe
	b.mu.RUnlock()
	for _, h := range hs {
		topics = h(cid, topics)
		if len(topics) == 0 {
			return nil
		}
	}
	return topics
}

func (b *Bus) FireMsgAcked(cid string, msg *message.PublishMessage) {
	b.mu.RLock()
	hs := b.msgAcked
	b.mu.RUnlock()
	for _, h := range hs {
		h(cid, msg)
	}
}
