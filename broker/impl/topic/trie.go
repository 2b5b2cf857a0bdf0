package topic

import (
	"fmt"
	"reflect"

	"github.com/lybxkl/gmqttd/broker/core/message"
	"github.com/lybxkl/gmqttd/broker/core/topic"
	"github.com/lybxkl/gmqttd/common/constant"
)

// 订阅树节点
type snode struct {
	// 主题串到此结束的订阅者
	subs []interface{}
	qos  []topic.Sub

	// 下一层级
	snodes map[string]*snode
}

func newSNode() *snode {
	return &snode{
		snodes: make(map[string]*snode),
	}
}

func (t *snode) sinsert(subs topic.Sub, sub interface{}) error {
	// 没有剩余层级，落在本节点。重复订阅只更新qos。
	if len(subs.Topic) == 0 {
		for i := range t.subs {
			if equal(t.subs[i], sub) {
				t.qos[i] = subs
				return nil
			}
		}

		t.subs = append(t.subs, sub)
		t.qos = append(t.qos, subs)

		return nil
	}

	// ntl = 下一个主题级别
	ntl, rem, err := nextTopicLevel(subs.Topic)
	if err != nil {
		return err
	}

	level := string(ntl)

	n, ok := t.snodes[level]
	if !ok {
		n = newSNode()
		t.snodes[level] = n
	}
	subs.Topic = rem
	return n.sinsert(subs, sub)
}

// sremove 删除订阅者，不校验qos。sub为nil时清空本层所有订阅者。
func (t *snode) sremove(topic []byte, sub interface{}) error {
	if len(topic) == 0 {
		if sub == nil {
			t.subs = t.subs[0:0]
			t.qos = t.qos[0:0]
			return nil
		}

		for i := range t.subs {
			if equal(t.subs[i], sub) {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				t.qos = append(t.qos[:i], t.qos[i+1:]...)
				return nil
			}
		}

		return fmt.Errorf("memtopic/remove: no topic found for subscriber")
	}

	ntl, rem, err := nextTopicLevel(topic)
	if err != nil {
		return err
	}

	level := string(ntl)

	n, ok := t.snodes[level]
	if !ok {
		return fmt.Errorf("memtopic/remove: no topic found")
	}

	if err := n.sremove(rem, sub); err != nil {
		return err
	}

	// 层级下已无订阅者与子级时收缩
	if len(n.subs) == 0 && len(n.snodes) == 0 {
		delete(t.snodes, level)
	}

	return nil
}

// smatch 收集订阅了topic的所有订阅者。
// “sport/#”也匹配“sport”，因为#包括它的父级；
// “sport/+”不匹配“sport”但匹配“sport/”。
func (t *snode) smatch(topic []byte, qos byte, subs *[]interface{}, qoss *[]byte) error {
	if len(topic) == 0 {
		t.matchQos(qos, subs, qoss)
		if v, ok := t.snodes["#"]; ok {
			v.matchQos(qos, subs, qoss)
		}
		// “sport/+”匹配“sport/”，+可匹配空层级
		if v, ok := t.snodes["+"]; ok {
			v.matchQos(qos, subs, qoss)
		}
		return nil
	}

	// rem为nil是 a/b 这种无/结尾的；len(rem)==0是 a/b/ 结尾有/的
	ntl, rem, err := nextTopicLevel(topic)
	if err != nil {
		return err
	}

	level := string(ntl)
	for k, n := range t.snodes {
		if k == constant.MWC {
			n.matchQos(qos, subs, qoss)
		} else if k == constant.SWC || k == level {
			if rem != nil {
				if err := n.smatch(rem, qos, subs, qoss); err != nil {
					return err
				}
			} else {
				n.matchQos(qos, subs, qoss)
				if v, ok := n.snodes["#"]; ok {
					v.matchQos(qos, subs, qoss)
				}
			}
		}
	}

	return nil
}

// matchQos 实际投递qos取发布qos与授予qos的最小值
func (t *snode) matchQos(qos byte, subs *[]interface{}, qoss *[]byte) {
	for i, sub := range t.subs {
		deliverQos := qos
		if t.qos[i].Qos < deliverQos {
			deliverQos = t.qos[i].Qos
		}
		*subs = append(*subs, sub)
		*qoss = append(*qoss, deliverQos)
	}
}

// 保留消息树节点
type rnode struct {
	// 主题串到此结束的保留消息
	msg *message.PublishMessage

	rnodes map[string]*rnode
}

func newRNode() *rnode {
	return &rnode{
		rnodes: make(map[string]*rnode),
	}
}

func (t *rnode) rinsert(topic []byte, msg *message.PublishMessage) error {
	if len(topic) == 0 {
		t.msg = msg.Copy()
		return nil
	}

	ntl, rem, err := nextTopicLevel(topic)
	if err != nil {
		return err
	}

	level := string(ntl)

	n, ok := t.rnodes[level]
	if !ok {
		n = newRNode()
		t.rnodes[level] = n
	}

	return n.rinsert(rem, msg)
}

func (t *rnode) rremove(topic []byte) error {
	if len(topic) == 0 {
		t.msg = nil
		return nil
	}

	ntl, rem, err := nextTopicLevel(topic)
	if err != nil {
		return err
	}

	level := string(ntl)

	n, ok := t.rnodes[level]
	if !ok {
		return fmt.Errorf("memtopic/rremove: no topic found")
	}

	if err := n.rremove(rem); err != nil {
		return err
	}

	if len(n.rnodes) == 0 && n.msg == nil {
		delete(t.rnodes, level)
	}

	return nil
}

// rmatch 反向匹配：查询主题可带通配符，保留消息主题是完整主题
func (t *rnode) rmatch(topic []byte, msgs *[]*message.PublishMessage) error {
	if len(topic) == 0 {
		if t.msg != nil {
			*msgs = append(*msgs, t.msg)
		}
		return nil
	}

	ntl, rem, err := nextTopicLevel(topic)
	if err != nil {
		return err
	}

	level := string(ntl)

	if level == constant.MWC {
		t.allRetained(msgs)
	} else if level == constant.SWC {
		for _, n := range t.rnodes {
			if err := n.rmatch(rem, msgs); err != nil {
				return err
			}
		}
	} else {
		if n, ok := t.rnodes[level]; ok {
			if err := n.rmatch(rem, msgs); err != nil {
				return err
			}
		}
	}

	return nil
}

func (t *rnode) allRetained(msgs *[]*message.PublishMessage) {
	if t.msg != nil {
		*msgs = append(*msgs, t.msg)
	}

	for _, n := range t.rnodes {
		n.allRetained(msgs)
	}
}

// nextTopicLevel 返回下一主题级别、剩余级别
func nextTopicLevel(topic []byte) ([]byte, []byte, error) {
	s := constant.StateCHR

	for i, c := range topic {
		switch c {
		case '/':
			if s == constant.StateMWC {
				return nil, nil, fmt.Errorf("memtopic/nextTopicLevel: multi-level wildcard found in topic and it's not at the last level")
			}

			if i == 0 {
				return []byte(constant.SWC), topic[i+1:], nil
			}

			return topic[:i], topic[i+1:], nil

		case '#':
			if i != 0 {
				return nil, nil, fmt.Errorf("memtopic/nextTopicLevel: wildcard character '#' must occupy entire topic level")
			}

			s = constant.StateMWC

		case '+':
			if i != 0 {
				return nil, nil, fmt.Errorf("memtopic/nextTopicLevel: wildcard character '+' must occupy entire topic level")
			}

			s = constant.StateSWC

		case '$':
			if i == 0 {
				return nil, nil, fmt.Errorf("memtopic/nextTopicLevel: cannot publish to $ topic")
			}

			s = constant.StateSYS

		default:
			if s == constant.StateMWC || s == constant.StateSWC {
				return nil, nil, fmt.Errorf("memtopic/nextTopicLevel: wildcard characters '#' and '+' must occupy entire topic level")
			}

			s = constant.StateCHR
		}
	}

	// 没有分隔符，整个剩余串就是最后一个级别
	return topic, nil, nil
}

func equal(k1, k2 interface{}) bool {
	if reflect.TypeOf(k1) != reflect.TypeOf(k2) {
		return false
	}

	if reflect.ValueOf(k1).Kind() == reflect.Func {
		return &k1 == &k2
	}

	return k1 == k2
}
