package topic

import (
	"fmt"
	"sync"

	"github.com/lybxkl/gmqttd/broker/core/message"
	"github.com/lybxkl/gmqttd/broker/core/topic"
	. "github.com/lybxkl/gmqttd/common/log"
	"github.com/lybxkl/gmqttd/util"
)

var _ topic.Manager = (*memtopic)(nil)

// dispatcher 订阅者需要实现的投递面
type dispatcher interface {
	ID() string
	Dispatch(msg *message.PublishMessage) error
}

type memtopic struct {
	// 订阅树
	smu   sync.RWMutex
	sroot *snode

	// 保留消息树
	rmu   sync.RWMutex
	rroot *rnode
}

// NewMemProvider 纯内存的订阅树与保留消息树，进程退出即消失
func NewMemProvider() *memtopic {
	return &memtopic{
		sroot: newSNode(),
		rroot: newRNode(),
	}
}

// Subscribe 订阅主题，返回授予的qos
func (t *memtopic) Subscribe(subs topic.Sub, sub interface{}) (byte, error) {
	if !message.ValidQos(subs.Qos) {
		return message.QosFailure, fmt.Errorf("invalid QoS %d", subs.Qos)
	}
	if sub == nil {
		return message.QosFailure, fmt.Errorf("subscriber cannot be nil")
	}

	subs.Qos = util.Qos(subs.Qos)

	t.smu.Lock()
	defer t.smu.Unlock()
	if err := t.sroot.sinsert(subs, sub); err != nil {
		return message.QosFailure, err
	}
	return subs.Qos, nil
}

// Unsubscribe 取消订阅
func (t *memtopic) Unsubscribe(topic []byte, sub interface{}) error {
	t.smu.Lock()
	defer t.smu.Unlock()

	return t.sroot.sremove(topic, sub)
}

// Subscribers 收集匹配订阅者，返回值在下一次调用时失效
func (t *memtopic) Subscribers(topic []byte, qos byte, subs *[]interface{}, qoss *[]byte) error {
	if !message.ValidQos(qos) {
		return fmt.Errorf("invalid QoS %d", qos)
	}
	if len(topic) > 0 && topic[0] == '$' {
		return fmt.Errorf("memtopic/Subscribers: cannot publish to $ topic")
	}

	*subs = (*subs)[0:0]
	*qoss = (*qoss)[0:0]

	t.smu.RLock()
	defer t.smu.RUnlock()
	return t.sroot.smatch(topic, qos, subs, qoss)
}

// Publish 路由一条消息：处理retain位，再分发给所有匹配会话
func (t *memtopic) Publish(msg *message.PublishMessage) error {
	if msg.Retain() {
		if err := t.Retain(msg); err != nil {
			Log.Errorf("memtopic: retain %q err %v", msg.Topic(), err)
		}
	}

	var (
		subs []interface{}
		qoss []byte
	)
	if err := t.Subscribers(msg.Topic(), msg.QoS(), &subs, &qoss); err != nil {
		return err
	}

	for i, sub := range subs {
		d, ok := sub.(dispatcher)
		if !ok {
			Log.Errorf("memtopic: invalid subscriber %v", sub)
			continue
		}
		cp := msg.Copy()
		// 转发时retain位清零，只有新订阅补发的保留消息置位
		cp.SetRetain(false)
		cp.SetDup(false)
		cp.SetPacketId(0)
		_ = cp.SetQoS(qoss[i])
		if err := d.Dispatch(cp); err != nil {
			Log.Warnf("memtopic: dispatch to %s err %v", d.ID(), err)
		}
	}
	return nil
}

// Retain 空载荷表示删除该主题的保留消息
func (t *memtopic) Retain(msg *message.PublishMessage) error {
	t.rmu.Lock()
	defer t.rmu.Unlock()

	if len(msg.Payload()) == 0 {
		return t.rroot.rremove(msg.Topic())
	}
	return t.rroot.rinsert(msg.Topic(), msg)
}

func (t *memtopic) Retained(topic []byte, msgs *[]*message.PublishMessage) error {
	t.rmu.RLock()
	defer t.rmu.RUnlock()

	return t.rroot.rmatch(topic, msgs)
}

func (t *memtopic) Close() error {
	t.smu.Lock()
	t.sroot = newSNode()
	t.smu.Unlock()
	t.rmu.Lock()
	t.rroot = newRNode()
	t.rmu.Unlock()
	return nil
}
