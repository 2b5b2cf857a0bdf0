package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/lybxkl/gmqttd/broker/core"
	"github.com/lybxkl/gmqttd/broker/core/message"
	sessc "github.com/lybxkl/gmqttd/broker/core/session"
	"github.com/lybxkl/gmqttd/broker/core/topic"
	"github.com/lybxkl/gmqttd/broker/gcfg"
	_ "github.com/lybxkl/gmqttd/broker/impl"
	. "github.com/lybxkl/gmqttd/common/log"
	"github.com/lybxkl/gmqttd/util/gopool"
)

var once sync.Once

// Start 启动会话核心并跑一轮回环演示：
// 一个持久会话订阅demo/+，另一个clean会话发布qos0/1/2各一条。
func Start() {
	once.Do(func() {
		// 日志初始化
		NewGLog(gcfg.GetGCfg().Log.GetLevel())
		Log.Infof("config: %s", gcfg.GetGCfg())

		poolCloser := gopool.InitServiceTaskPool(gcfg.GetGCfg().Broker.ServerTaskPoolSize)
		defer func() { _ = poolCloser.Close() }()

		exitSignal()
		loopbackDemo()
	})
}

func loopbackDemo() {
	subCli := newLoopClient("demo-sub")
	subSess, _, err := core.SessionManager().GetOrCreate(subCli.id, false, subCli)
	if err != nil {
		Log.Errorf("demo: create sub session err %v", err)
		return
	}
	subCli.bind(subSess)

	_ = subSess.Subscribe([]topic.Sub{{Topic: []byte("demo/+"), Qos: message.QosExactlyOnce}}, func(qoss []byte) {
		Log.Infof("demo: suback %v", qoss)
	})

	pubCli := newLoopClient("demo-pub")
	pubSess, _, err := core.SessionManager().GetOrCreate(pubCli.id, true, pubCli)
	if err != nil {
		Log.Errorf("demo: create pub session err %v", err)
		return
	}
	pubCli.bind(pubSess)

	for qos := message.QosAtMostOnce; qos <= message.QosExactlyOnce; qos++ {
		msg := message.NewPublishMessage()
		if err := msg.SetTopic([]byte("demo/hello")); err != nil {
			Log.Errorf("demo: %v", err)
			return
		}
		_ = msg.SetQoS(qos)
		msg.SetPayload([]byte(fmt.Sprintf("hello qos%d", qos)))
		if qos == message.QosExactlyOnce {
			msg.SetPacketId(1)
		}
		if err := pubSess.Publish(msg); err != nil {
			Log.Errorf("demo: publish qos%d err %v", qos, err)
			continue
		}
		if qos == message.QosExactlyOnce {
			// 入站qos2要等PUBREL才会转发
			_ = pubSess.Pubrel(msg.PacketId())
		}
	}

	time.Sleep(time.Second)
	for id, info := range core.SessionManager().Snapshot() {
		Log.Infof("demo: session %s info %+v", id, info)
	}
}

// loopClient 回环连接句柄，收到投递即自动回ack
type loopClient struct {
	id   string
	mu   sync.Mutex
	sess sessc.Session
	done chan struct{}
}

func newLoopClient(id string) *loopClient {
	return &loopClient{id: id, done: make(chan struct{})}
}

func (c *loopClient) bind(s sessc.Session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

func (c *loopClient) ID() string { return c.id }

func (c *loopClient) Deliver(msg *message.PublishMessage) error {
	Log.Infof("client %s: recv %s", c.id, msg)
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	switch msg.QoS() {
	case message.QosAtLeastOnce:
		return s.Puback(msg.PacketId())
	case message.QosExactlyOnce:
		if err := s.Pubrec(msg.PacketId()); err != nil {
			return err
		}
		return s.Pubcomp(msg.PacketId())
	}
	return nil
}

func (c *loopClient) RedeliverPubrel(pktid uint16) error {
	Log.Infof("client %s: recv PUBREL pktid=%d", c.id, pktid)
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Pubcomp(pktid)
}

func (c *loopClient) Kickout(reason string, next sessc.Client) {
	Log.Warnf("client %s: kicked out(%s), next=%s", c.id, reason, next.ID())
	c.Close()
}

func (c *loopClient) Done() <-chan struct{} { return c.done }

func (c *loopClient) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// exitSignal 监听信号并关闭
func exitSignal() {
	signChan := make(chan os.Signal, 1)
	signal.Notify(signChan, os.Interrupt)
	go func() {
		sig := <-signChan
		Log.Infof("existing due to trapped signal; %v", sig)
		if err := core.Close(); err != nil {
			Log.Errorf("core close err: %v", err)
		}
		os.Exit(0)
	}()
}
