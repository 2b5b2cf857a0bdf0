package sess

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lybxkl/gmqttd/broker/core/hook"
	"github.com/lybxkl/gmqttd/broker/core/message"
	sessc "github.com/lybxkl/gmqttd/broker/core/session"
	topicc "github.com/lybxkl/gmqttd/broker/core/topic"
	"github.com/lybxkl/gmqttd/broker/gcfg"
)

const waitTick = 5 * time.Millisecond

func testCfg() gcfg.Session {
	cfg := gcfg.GetGCfg().Session
	cfg.CollectInterval = 0
	return cfg
}

func newTestSession(t *testing.T, clean bool, cfg gcfg.Session) (*session, *fakeClient, *fakeTimers, *fakeRouter) {
	t.Helper()
	cli := newFakeClient("c1")
	ft := newFakeTimers()
	router := newFakeRouter()
	s := NewSession("sid-"+t.Name(), clean, cli, router, hook.NewBus(),
		WithConfig(cfg), WithTimers(ft))
	t.Cleanup(func() {
		_ = s.Destroy()
		select {
		case <-s.Done():
		case <-time.After(time.Second):
		}
	})
	return s, cli, ft, router
}

func newPub(t *testing.T, topic string, qos byte, payload string) *message.PublishMessage {
	t.Helper()
	msg := message.NewPublishMessage()
	require.NoError(t, msg.SetTopic([]byte(topic)))
	require.NoError(t, msg.SetQoS(qos))
	msg.SetPayload([]byte(payload))
	return msg
}

func waitInfo(t *testing.T, s *session, pred func(sessc.Info) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return pred(s.Info())
	}, time.Second, waitTick)
}

func TestQos1HappyPath(t *testing.T) {
	s, cli, ft, _ := newTestSession(t, true, testCfg())

	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "m1")))

	require.Eventually(t, func() bool { return cli.deliveredCount() == 1 }, time.Second, waitTick)
	got := cli.deliveredAt(0)
	assert.Equal(t, uint16(1), got.PacketId())
	assert.False(t, got.Dup())
	require.Eventually(t, func() bool { return ft.armed(s.ackTimerID(1)) }, time.Second, waitTick)

	require.NoError(t, s.Puback(1))
	waitInfo(t, s, func(i sessc.Info) bool { return i.InflightLen == 0 && i.AwaitingAck == 0 })
	assert.True(t, ft.wasCancelled(s.ackTimerID(1)))
}

func TestQos2Sender(t *testing.T) {
	s, cli, ft, _ := newTestSession(t, true, testCfg())

	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosExactlyOnce, "m1")))
	require.Eventually(t, func() bool { return cli.deliveredCount() == 1 }, time.Second, waitTick)
	require.Equal(t, uint16(1), cli.deliveredAt(0).PacketId())

	require.NoError(t, s.Pubrec(1))
	waitInfo(t, s, func(i sessc.Info) bool {
		return i.AwaitingAck == 0 && i.AwaitingComp == 1 && i.InflightLen == 0
	})
	assert.True(t, ft.wasCancelled(s.ackTimerID(1)))
	assert.True(t, ft.armed(s.compTimerID(1)))

	require.NoError(t, s.Pubcomp(1))
	waitInfo(t, s, func(i sessc.Info) bool { return i.AwaitingComp == 0 })
	assert.True(t, ft.wasCancelled(s.compTimerID(1)))
}

func TestQos2Receiver(t *testing.T) {
	s, _, ft, router := newTestSession(t, true, testCfg())

	msg := newPub(t, "a/b", message.QosExactlyOnce, "m1")
	msg.SetPacketId(42)
	require.NoError(t, s.Publish(msg))

	waitInfo(t, s, func(i sessc.Info) bool { return i.AwaitingRel == 1 })
	assert.Zero(t, router.publishedCount(), "must not route before PUBREL")
	assert.True(t, ft.armed(s.relTimerID(42)))

	require.NoError(t, s.Pubrel(42))
	require.Eventually(t, func() bool { return router.publishedCount() == 1 }, time.Second, waitTick)
	waitInfo(t, s, func(i sessc.Info) bool { return i.AwaitingRel == 0 })
	assert.True(t, ft.wasCancelled(s.relTimerID(42)))
}

func TestQos01PublishRoutesDirect(t *testing.T) {
	s, _, _, router := newTestSession(t, true, testCfg())

	require.NoError(t, s.Publish(newPub(t, "a/b", message.QosAtMostOnce, "m0")))
	require.NoError(t, s.Publish(newPub(t, "a/b", message.QosAtLeastOnce, "m1")))
	assert.Equal(t, 2, router.publishedCount())
}

func TestResumeAfterOffline(t *testing.T) {
	s, cli, ft, _ := newTestSession(t, false, testCfg())

	// 两条qos1在途 + 一条qos2已到PUBREC
	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "mA")))
	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "mB")))
	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosExactlyOnce, "mC")))
	require.Eventually(t, func() bool { return cli.deliveredCount() == 3 }, time.Second, waitTick)
	require.NoError(t, s.Pubrec(3))
	waitInfo(t, s, func(i sessc.Info) bool { return i.AwaitingComp == 1 && i.InflightLen == 2 })

	// 掉线：转离线并挂过期定时器
	cli.down()
	waitInfo(t, s, func(i sessc.Info) bool { return i.AwaitingAck == 2 || i.AwaitingAck == 0 })
	require.Eventually(t, func() bool { return ft.armed(s.sid + "/expired") }, time.Second, waitTick)

	// 离线期间到达的消息进队列
	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "mD")))
	waitInfo(t, s, func(i sessc.Info) bool { return i.QueueLen == 1 })

	next := newFakeClient("c2")
	require.NoError(t, s.Resume(next))

	// PUBREL重放 + 在途按序重发 + 队列补发
	require.Eventually(t, func() bool { return next.deliveredCount() == 3 }, time.Second, waitTick)
	assert.Equal(t, []uint16{3}, next.pubrelIds())

	first, second, third := next.deliveredAt(0), next.deliveredAt(1), next.deliveredAt(2)
	assert.Equal(t, uint16(1), first.PacketId())
	assert.True(t, first.Dup())
	assert.Equal(t, "mA", string(first.Payload()))
	assert.Equal(t, uint16(2), second.PacketId())
	assert.True(t, second.Dup())
	assert.Equal(t, "mB", string(second.Payload()))
	assert.Equal(t, uint16(4), third.PacketId(), "allocator advanced past the qos2 id")
	assert.False(t, third.Dup())
	assert.Equal(t, "mD", string(third.Payload()))

	assert.False(t, ft.armed(s.sid+"/expired"))
	waitInfo(t, s, func(i sessc.Info) bool { return i.AwaitingComp == 0 && i.AwaitingAck == 3 })
}

func TestResumeKicksOldClient(t *testing.T) {
	s, cli, _, _ := newTestSession(t, false, testCfg())

	next := newFakeClient("c2")
	require.NoError(t, s.Resume(next))
	require.Eventually(t, func() bool { return cli.kickedCount() == 1 }, time.Second, waitTick)

	// 旧句柄掉线不影响新句柄
	waitInfo(t, s, func(i sessc.Info) bool { return i.InflightLen == 0 })
	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "m1")))
	require.Eventually(t, func() bool { return next.deliveredCount() == 1 }, time.Second, waitTick)
	assert.Zero(t, cli.deliveredCount())
}

func TestInflightCapBackpressure(t *testing.T) {
	cfg := testCfg()
	cfg.MaxInflight = 1
	s, cli, _, _ := newTestSession(t, true, cfg)

	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "m1")))
	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "m2")))

	require.Eventually(t, func() bool { return cli.deliveredCount() == 1 }, time.Second, waitTick)
	waitInfo(t, s, func(i sessc.Info) bool { return i.QueueLen == 1 })

	require.NoError(t, s.Puback(1))
	require.Eventually(t, func() bool { return cli.deliveredCount() == 2 }, time.Second, waitTick)
	assert.Equal(t, "m2", string(cli.deliveredAt(1).Payload()))
	assert.Equal(t, uint16(2), cli.deliveredAt(1).PacketId())
}

func TestRetryAfterAckTimeout(t *testing.T) {
	s, cli, ft, _ := newTestSession(t, true, testCfg())

	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "m1")))
	require.Eventually(t, func() bool { return cli.deliveredCount() == 1 }, time.Second, waitTick)
	require.Eventually(t, func() bool { return ft.armed(s.ackTimerID(1)) }, time.Second, waitTick)

	require.True(t, ft.fire(s.ackTimerID(1)))
	require.Eventually(t, func() bool { return cli.deliveredCount() == 2 }, time.Second, waitTick)

	retry := cli.deliveredAt(1)
	assert.Equal(t, uint16(1), retry.PacketId())
	assert.True(t, retry.Dup())
	require.Eventually(t, func() bool { return ft.armed(s.ackTimerID(1)) }, time.Second, waitTick)
}

func TestAwaitRelCapReturnsDropped(t *testing.T) {
	cfg := testCfg()
	cfg.MaxAwaitingRel = 1
	s, _, _, _ := newTestSession(t, true, cfg)

	m1 := newPub(t, "a/b", message.QosExactlyOnce, "m1")
	m1.SetPacketId(1)
	require.NoError(t, s.Publish(m1))

	m2 := newPub(t, "a/b", message.QosExactlyOnce, "m2")
	m2.SetPacketId(2)
	assert.ErrorIs(t, s.Publish(m2), sessc.ErrDropped)
}

func TestQos2PublishDupIsIdempotent(t *testing.T) {
	s, _, _, router := newTestSession(t, true, testCfg())

	msg := newPub(t, "a/b", message.QosExactlyOnce, "m1")
	msg.SetPacketId(7)
	require.NoError(t, s.Publish(msg))

	dup := msg.Copy()
	dup.SetDup(true)
	require.NoError(t, s.Publish(dup))
	waitInfo(t, s, func(i sessc.Info) bool { return i.AwaitingRel == 1 })

	require.NoError(t, s.Pubrel(7))
	require.Eventually(t, func() bool { return router.publishedCount() == 1 }, time.Second, waitTick)
	waitInfo(t, s, func(i sessc.Info) bool { return i.AwaitingRel == 0 })
}

func TestDoublePubackIsNoop(t *testing.T) {
	s, cli, _, _ := newTestSession(t, true, testCfg())

	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "m1")))
	require.Eventually(t, func() bool { return cli.deliveredCount() == 1 }, time.Second, waitTick)

	require.NoError(t, s.Puback(1))
	waitInfo(t, s, func(i sessc.Info) bool { return i.InflightLen == 0 })
	require.NoError(t, s.Puback(1))
	waitInfo(t, s, func(i sessc.Info) bool { return i.InflightLen == 0 && i.AwaitingAck == 0 })
}

func TestSubscribeMergeAndRetainedOnce(t *testing.T) {
	s, cli, _, router := newTestSession(t, true, testCfg())

	keep := newPub(t, "news/today", message.QosAtLeastOnce, "retained")
	keep.SetRetain(true)
	require.NoError(t, router.Retain(keep))

	var (
		ackMu sync.Mutex
		acks  [][]byte
	)
	ackFn := func(qoss []byte) {
		ackMu.Lock()
		acks = append(acks, qoss)
		ackMu.Unlock()
	}
	ackCount := func() int {
		ackMu.Lock()
		defer ackMu.Unlock()
		return len(acks)
	}

	require.NoError(t, s.Subscribe([]topicc.Sub{{Topic: []byte("news/today"), Qos: 1}}, ackFn))
	require.Eventually(t, func() bool { return cli.deliveredCount() == 1 }, time.Second, waitTick)
	got := cli.deliveredAt(0)
	assert.True(t, got.Retain())
	assert.Equal(t, "retained", string(got.Payload()))

	// 重复订阅不再补发保留消息
	require.NoError(t, s.Subscribe([]topicc.Sub{{Topic: []byte("news/today"), Qos: 1}}, ackFn))
	waitInfo(t, s, func(i sessc.Info) bool { return i.Subscriptions == 1 })
	require.Eventually(t, func() bool { return ackCount() == 2 }, time.Second, waitTick)
	assert.Equal(t, 1, router.retainedCount())
	assert.Equal(t, 1, cli.deliveredCount())
}

func TestResubscribeUpdatesQosInPlace(t *testing.T) {
	s, _, _, _ := newTestSession(t, true, testCfg())

	require.NoError(t, s.Subscribe([]topicc.Sub{{Topic: []byte("a/+"), Qos: 0}}, nil))
	waitInfo(t, s, func(i sessc.Info) bool { return i.Subscriptions == 1 })

	require.NoError(t, s.Subscribe([]topicc.Sub{{Topic: []byte("a/+"), Qos: 2}}, nil))
	waitInfo(t, s, func(i sessc.Info) bool { return i.Subscriptions == 1 })
}

func TestUnsubscribeUnknownFilterIgnored(t *testing.T) {
	s, _, _, router := newTestSession(t, true, testCfg())

	require.NoError(t, s.Subscribe([]topicc.Sub{{Topic: []byte("a/b"), Qos: 1}}, nil))
	waitInfo(t, s, func(i sessc.Info) bool { return i.Subscriptions == 1 })

	require.NoError(t, s.Unsubscribe([][]byte{[]byte("a/b"), []byte("no/such")}))
	waitInfo(t, s, func(i sessc.Info) bool { return i.Subscriptions == 0 })
	assert.Equal(t, []string{"a/b"}, router.unsubscribedTopics())
}

func TestCleanSessionDiesOnClientDown(t *testing.T) {
	s, cli, _, _ := newTestSession(t, true, testCfg())

	cli.down()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session should terminate with clean_sess=true")
	}
	assert.Equal(t, sessc.ReasonNormal, s.Reason())
}

func TestSessionExpires(t *testing.T) {
	s, cli, ft, _ := newTestSession(t, false, testCfg())

	cli.down()
	require.Eventually(t, func() bool { return ft.armed(s.sid + "/expired") }, time.Second, waitTick)
	require.True(t, ft.fire(s.sid+"/expired"))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session should expire")
	}
	assert.Equal(t, sessc.ReasonExpired, s.Reason())
}

func TestOfflineQos0DroppedUnlessConfigured(t *testing.T) {
	cfg := testCfg()
	cfg.QueueQos0 = false
	s, cli, _, _ := newTestSession(t, false, cfg)
	cli.down()
	waitInfo(t, s, func(i sessc.Info) bool { return i.QueueLen == 0 })

	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtMostOnce, "m0")))
	require.NoError(t, s.Dispatch(newPub(t, "a/b", message.QosAtLeastOnce, "m1")))
	waitInfo(t, s, func(i sessc.Info) bool { return i.QueueLen == 1 })

	cfg2 := testCfg()
	cfg2.QueueQos0 = true
	s2, cli2, _, _ := newTestSession(t, false, cfg2)
	cli2.down()
	waitInfo(t, s2, func(i sessc.Info) bool { return i.QueueLen == 0 })
	require.NoError(t, s2.Dispatch(newPub(t, "a/b", message.QosAtMostOnce, "m0")))
	waitInfo(t, s2, func(i sessc.Info) bool { return i.QueueLen == 1 })
}

func TestPacketIdWrapSkipsZeroAndOccupied(t *testing.T) {
	s := &session{
		nextPktId:    65535,
		awaitingAck:  map[uint16]string{1: "t1"},
		awaitingComp: make(map[uint16]string),
	}

	assert.Equal(t, uint16(65535), s.nextPacketID())
	// 回绕跳过0，1被占用也跳过
	assert.Equal(t, uint16(2), s.nextPacketID())
}

func TestOperationsAfterDestroyReturnClosed(t *testing.T) {
	s, _, _, _ := newTestSession(t, true, testCfg())

	require.NoError(t, s.Destroy())
	<-s.Done()
	assert.Equal(t, sessc.ReasonDestroy, s.Reason())

	assert.ErrorIs(t, s.Puback(1), sessc.ErrClosed)
	msg := newPub(t, "a/b", message.QosExactlyOnce, "m")
	msg.SetPacketId(1)
	assert.ErrorIs(t, s.Publish(msg), sessc.ErrClosed)
}
