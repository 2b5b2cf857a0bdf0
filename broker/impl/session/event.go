package sess

import (
	"fmt"

	"github.com/lybxkl/gmqttd/broker/core/message"
	sessc "github.com/lybxkl/gmqttd/broker/core/session"
	"github.com/lybxkl/gmqttd/broker/core/topic"
)

type eventKind uint8

const (
	evNone eventKind = iota
	evDispatch
	evPublish2 // 入站qos2，同步
	evSubscribe
	evUnsubscribe
	evPuback
	evPubrec
	evPubrel
	evPubcomp
	evTimeout
	evCollect
	evResume
	evClientDown
	evExpired
	evDestroy
)

// priority 事件优先级，邮箱每次取最高者。
// 管理类最先，ack类先于新投递，超时先于新到达。
func (k eventKind) priority() int {
	switch k {
	case evClientDown, evExpired, evDestroy:
		return 10
	case evResume:
		return 9
	case evPubrel, evPubcomp, evPubrec:
		return 8
	case evPuback:
		return 7
	case evUnsubscribe:
		return 6
	case evSubscribe, evTimeout:
		return 5
	case evCollect:
		return 2
	case evDispatch:
		return 1
	default:
		return 0
	}
}

func (k eventKind) String() string {
	switch k {
	case evDispatch:
		return "dispatch"
	case evPublish2:
		return "publish2"
	case evSubscribe:
		return "subscribe"
	case evUnsubscribe:
		return "unsubscribe"
	case evPuback:
		return "puback"
	case evPubrec:
		return "pubrec"
	case evPubrel:
		return "pubrel"
	case evPubcomp:
		return "pubcomp"
	case evTimeout:
		return "timeout"
	case evCollect:
		return "collect"
	case evResume:
		return "resume"
	case evClientDown:
		return "clientdown"
	case evExpired:
		return "expired"
	case evDestroy:
		return "destroy"
	default:
		return fmt.Sprintf("event(%d)", k)
	}
}

type timeoutKind uint8

const (
	timeoutAck timeoutKind = iota + 1 // 等PUBACK/PUBREC
	timeoutRel                        // 等PUBREL
	timeoutComp                       // 等PUBCOMP
)

func (t timeoutKind) String() string {
	switch t {
	case timeoutAck:
		return "ack"
	case timeoutRel:
		return "rel"
	case timeoutComp:
		return "comp"
	default:
		return fmt.Sprintf("timeout(%d)", t)
	}
}

type event struct {
	kind eventKind

	msg    *message.PublishMessage
	pktid  uint16
	tkind  timeoutKind
	subs   []topic.Sub
	ackFn  func(qoss []byte)
	topics [][]byte
	client sessc.Client

	// reply 仅同步事件携带
	reply chan error

	// 邮箱内部排序用
	pri int
	seq uint64
}
