package sess

import (
	"fmt"
	"time"

	uatomic "go.uber.org/atomic"

	"github.com/lybxkl/gmqttd/broker/core/hook"
	"github.com/lybxkl/gmqttd/broker/core/message"
	sessc "github.com/lybxkl/gmqttd/broker/core/session"
	"github.com/lybxkl/gmqttd/broker/core/topic"
	"github.com/lybxkl/gmqttd/broker/gcfg"
	"github.com/lybxkl/gmqttd/util/cron"
	"github.com/lybxkl/gmqttd/util/gopool"
)

var _ sessc.Session = (*session)(nil)

type inflightElem struct {
	pktid uint16
	msg   *message.PublishMessage
}

type relElem struct {
	msg     *message.PublishMessage
	timerID string
}

// session 单客户端会话。状态只被事件循环goroutine修改，
// 外部操作一律经邮箱投递。
type session struct {
	sid       string
	cleanSess bool
	createdAt time.Time

	cfg    gcfg.Session
	router topic.Manager
	hooks  *hook.Bus
	timers cron.DelayTaskManage
	sign   *Sign

	mb *mailbox

	// 以下字段仅事件循环访问
	client       sessc.Client
	watchStop    chan struct{}
	nextPktId    uint16
	subs         []topic.Sub
	inflight     []*inflightElem
	awaitingAck  map[uint16]string // pktid -> 重试定时器id
	awaitingComp map[uint16]string // pktid -> 超时定时器id
	awaitingRel  map[uint16]*relElem
	queue        sessc.MQueue
	expiredTimer string
	collectTimer string

	snapshot uatomic.Value // sessc.Info
	onStop   func(*session)
	onReport func(sessc.Info)
	done     chan struct{}
	reason   sessc.Reason
}

func NewSession(id string, cleanSess bool, client sessc.Client, router topic.Manager, hooks *hook.Bus, opts ...Option) *session {
	cfg := gcfg.GetGCfg().Session
	s := &session{
		sid:          id,
		cleanSess:    cleanSess,
		createdAt:    time.Now(),
		cfg:          cfg,
		router:       router,
		hooks:        hooks,
		timers:       cron.DelayTaskManager,
		mb:           newMailbox(),
		client:       client,
		nextPktId:    message.MinPacketId,
		awaitingAck:  make(map[uint16]string),
		awaitingComp: make(map[uint16]string),
		awaitingRel:  make(map[uint16]*relElem),
		done:         make(chan struct{}),
	}
	for _, op := range opts {
		op(s)
	}
	if s.queue == nil {
		s.queue = NewMemQueue(s.cfg.QueueSize)
	}
	if s.sign == nil {
		s.sign = NewSign(s.cfg.Quota, s.cfg.QuotaLimit)
	}
	if s.client != nil {
		s.startWatch(s.client)
	}
	s.storeInfo()
	if s.onReport != nil {
		s.onReport(s.Info())
	}
	s.armCollect()
	gopool.GoSafe(s.loop)
	return s
}

func (s *session) ID() string {
	return s.sid
}

func (s *session) CleanSess() bool {
	return s.cleanSess
}

// Publish 入站消息。qos0/1直接转路由，qos2同步等待会话落账。
func (s *session) Publish(msg *message.PublishMessage) error {
	switch msg.QoS() {
	case message.QosAtMostOnce:
		return s.router.Publish(msg)
	case message.QosAtLeastOnce:
		if s.sign.Limit() {
			return sessc.ErrDropped
		}
		return s.router.Publish(msg)
	case message.QosExactlyOnce:
		if s.sign.Limit() || !s.sign.ReqQuota() {
			return sessc.ErrDropped
		}
		reply := make(chan error, 1)
		if err := s.mb.Post(&event{kind: evPublish2, msg: msg, reply: reply}); err != nil {
			s.sign.AddQuota()
			return err
		}
		select {
		case err := <-reply:
			return err
		case <-time.After(s.cfg.PublishDeadline()):
			return sessc.ErrPublishTimeout
		}
	default:
		return fmt.Errorf("session/Publish: invalid qos %d", msg.QoS())
	}
}

func (s *session) Puback(pktid uint16) error {
	return s.mb.Post(&event{kind: evPuback, pktid: pktid})
}

func (s *session) Pubrec(pktid uint16) error {
	return s.mb.Post(&event{kind: evPubrec, pktid: pktid})
}

func (s *session) Pubrel(pktid uint16) error {
	return s.mb.Post(&event{kind: evPubrel, pktid: pktid})
}

func (s *session) Pubcomp(pktid uint16) error {
	return s.mb.Post(&event{kind: evPubcomp, pktid: pktid})
}

func (s *session) Subscribe(subs []topic.Sub, ackFn func(qoss []byte)) error {
	return s.mb.Post(&event{kind: evSubscribe, subs: subs, ackFn: ackFn})
}

func (s *session) Unsubscribe(topics [][]byte) error {
	return s.mb.Post(&event{kind: evUnsubscribe, topics: topics})
}

func (s *session) Dispatch(msg *message.PublishMessage) error {
	return s.mb.Post(&event{kind: evDispatch, msg: msg})
}

func (s *session) Resume(client sessc.Client) error {
	return s.mb.Post(&event{kind: evResume, client: client})
}

func (s *session) Destroy() error {
	return s.mb.Post(&event{kind: evDestroy})
}

func (s *session) Info() sessc.Info {
	v := s.snapshot.Load()
	if v == nil {
		return sessc.Info{ClientId: s.sid, CleanSess: s.cleanSess, CreatedAt: s.createdAt}
	}
	return v.(sessc.Info)
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

// Reason Done关闭后有效
func (s *session) Reason() sessc.Reason {
	return s.reason
}

func (s *session) storeInfo() {
	s.snapshot.Store(sessc.Info{
		ClientId:      s.sid,
		CleanSess:     s.cleanSess,
		Subscriptions: len(s.subs),
		MaxInflight:   s.cfg.MaxInflight,
		InflightLen:   len(s.inflight),
		QueueLen:      s.queue.Len(),
		Dropped:       s.queue.Dropped(),
		AwaitingRel:   len(s.awaitingRel),
		AwaitingAck:   len(s.awaitingAck),
		AwaitingComp:  len(s.awaitingComp),
		CreatedAt:     s.createdAt,
	})
}

// startWatch 监视连接存活，断开即投递ClientDown
func (s *session) startWatch(c sessc.Client) {
	stop := make(chan struct{})
	s.watchStop = stop
	gopool.GoSafe(func() {
		select {
		case <-c.Done():
			_ = s.mb.Post(&event{kind: evClientDown, client: c})
		case <-stop:
		}
	})
}

func (s *session) stopWatch() {
	if s.watchStop != nil {
		close(s.watchStop)
		s.watchStop = nil
	}
}

func (s *session) armCollect() {
	if s.cfg.Collect() <= 0 {
		return
	}
	s.collectTimer = fmt.Sprintf("%s/collect", s.sid)
	_ = s.timers.Run(&cron.DelayTask{
		ID:       s.collectTimer,
		DealTime: s.cfg.Collect(),
		Fn: func(interface{}) {
			_ = s.mb.Post(&event{kind: evCollect})
		},
	})
}

func (s *session) ackTimerID(pktid uint16) string {
	return fmt.Sprintf("%s/ack/%d", s.sid, pktid)
}

func (s *session) relTimerID(pktid uint16) string {
	return fmt.Sprintf("%s/rel/%d", s.sid, pktid)
}

func (s *session) compTimerID(pktid uint16) string {
	return fmt.Sprintf("%s/comp/%d", s.sid, pktid)
}

func (s *session) String() string {
	return fmt.Sprintf("session[%s clean=%v inflight=%d queue=%d]",
		s.sid, s.cleanSess, len(s.inflight), s.queue.Len())
}
