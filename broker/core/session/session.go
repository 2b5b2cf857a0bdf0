package sess

import (
	"errors"
	"time"

	"github.com/lybxkl/gmqttd/broker/core/message"
	"github.com/lybxkl/gmqttd/broker/core/topic"
)

var (
	// ErrDropped 入站qos2缓存已满，消息被拒绝
	ErrDropped = errors.New("session: awaiting rel over limit, message dropped")

	// ErrClosed 会话已终止，操作被丢弃
	ErrClosed = errors.New("session: closed")

	// ErrPublishTimeout 同步publish等待会话落账超时
	ErrPublishTimeout = errors.New("session: publish wait timeout")
)

// Reason 会话终止原因
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonNormal
	ReasonDestroy
	ReasonExpired
)

func (r Reason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonDestroy:
		return "destroy"
	case ReasonExpired:
		return "expired"
	default:
		return "none"
	}
}

// Client 连接句柄。会话只通过该接口触达对端，连接层负责编解码。
type Client interface {
	ID() string

	// Deliver 下发PUBLISH
	Deliver(msg *message.PublishMessage) error

	// RedeliverPubrel 会话恢复时重放PUBREL
	RedeliverPubrel(pktid uint16) error

	// Kickout 被同id新连接顶掉
	Kickout(reason string, next Client)

	// Done 连接存活监视，关闭即下线
	Done() <-chan struct{}
}

// MQueue 离线/超窗消息队列。Enqueue不阻塞，满时按策略丢弃并返回false。
type MQueue interface {
	Enqueue(msg *message.PublishMessage) bool
	Dequeue() (*message.PublishMessage, bool)
	Len() int
	Dropped() uint64
}

// Info 会话上报快照
type Info struct {
	ClientId      string    `json:"client_id"`
	CleanSess     bool      `json:"clean_sess"`
	Subscriptions int       `json:"subscriptions"`
	MaxInflight   uint16    `json:"max_inflight"`
	InflightLen   int       `json:"inflight_queue_len"`
	QueueLen      int       `json:"message_queue_len"`
	Dropped       uint64    `json:"message_dropped"`
	AwaitingRel   int       `json:"awaiting_rel"`
	AwaitingAck   int       `json:"awaiting_ack"`
	AwaitingComp  int       `json:"awaiting_comp"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session 单客户端会话。除Publish对入站qos2同步外，其余操作均投递到会话邮箱异步处理。
type Session interface {
	ID() string
	CleanSess() bool

	// Publish 入站消息。qos0/1由会话直接转路由；qos2同步等待落账，
	// awaiting_rel到上限时返回ErrDropped。
	Publish(msg *message.PublishMessage) error

	Puback(pktid uint16) error
	Pubrec(pktid uint16) error
	Pubrel(pktid uint16) error
	Pubcomp(pktid uint16) error

	// Subscribe ackFn以授予的qos列表回包，与subs一一对应
	Subscribe(subs []topic.Sub, ackFn func(qoss []byte)) error
	Unsubscribe(topics [][]byte) error

	// Dispatch 路由侧投递一条匹配消息
	Dispatch(msg *message.PublishMessage) error

	// Resume 新连接接管本会话
	Resume(client Client) error
	Destroy() error

	// Info 最近一次事件处理后的状态快照
	Info() Info

	// Done 会话事件循环退出后关闭
	Done() <-chan struct{}
	Reason() Reason
}

// Manager 会话管理者
type Manager interface {
	// GetOrCreate id已存在且新旧会话均为cleanSess=false时恢复旧会话(exist=true)，
	// 新连接或旧会话任一为cleanSess=true时销毁旧会话重建
	GetOrCreate(id string, cleanSess bool, client Client) (_sess Session, _exist bool, _e error)
	Get(id string) (Session, bool)
	Exist(id string) bool
	Remove(s Session) error

	// Register 会话状态上报，启动与每个collect周期各一次
	Register(info Info)
	Unregister(id string)
	Snapshot() map[string]Info

	Close() error
}
