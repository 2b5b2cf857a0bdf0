package sess

import (
	"sort"

	"github.com/lybxkl/gmqttd/broker/core/message"
	sessc "github.com/lybxkl/gmqttd/broker/core/session"
	"github.com/lybxkl/gmqttd/broker/core/topic"
	. "github.com/lybxkl/gmqttd/common/log"
	"github.com/lybxkl/gmqttd/util/cron"
)

func (s *session) loop() {
	defer s.teardown()
	for {
		ev, ok := s.mb.Take()
		if !ok {
			return
		}
		if s.handle(ev) {
			return
		}
		s.storeInfo()
	}
}

// handle 返回true表示会话终止
func (s *session) handle(ev *event) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			Log.Errorf("session %s: panic on %s: %v", s.sid, ev.kind, r)
		}
	}()

	switch ev.kind {
	case evDispatch:
		s.dispatch(ev.msg)
	case evPublish2:
		s.handlePublish2(ev)
	case evSubscribe:
		s.handleSubscribe(ev)
	case evUnsubscribe:
		s.handleUnsubscribe(ev)
	case evPuback:
		s.handlePuback(ev.pktid)
	case evPubrec:
		s.handlePubrec(ev.pktid)
	case evPubrel:
		s.handlePubrel(ev.pktid)
	case evPubcomp:
		s.handlePubcomp(ev.pktid)
	case evTimeout:
		s.handleTimeout(ev)
	case evCollect:
		s.handleCollect()
	case evResume:
		s.handleResume(ev)
	case evClientDown:
		return s.handleClientDown(ev)
	case evExpired:
		s.reason = sessc.ReasonExpired
		Log.Infof("session %s: expired", s.sid)
		return true
	case evDestroy:
		s.reason = sessc.ReasonDestroy
		return true
	default:
		Log.Warnf("session %s: unknown event %s", s.sid, ev.kind)
	}
	return false
}

func (s *session) teardown() {
	for _, tid := range s.awaitingAck {
		s.timers.Cancel(tid)
	}
	for _, tid := range s.awaitingComp {
		s.timers.Cancel(tid)
	}
	for _, e := range s.awaitingRel {
		s.timers.Cancel(e.timerID)
	}
	if s.expiredTimer != "" {
		s.timers.Cancel(s.expiredTimer)
	}
	if s.collectTimer != "" {
		s.timers.Cancel(s.collectTimer)
	}
	s.stopWatch()

	// 回绝箱内残留的同步调用
	s.mb.Close()
	for {
		ev, ok := s.mb.Take()
		if !ok {
			break
		}
		if ev.reply != nil {
			ev.reply <- sessc.ErrClosed
		}
	}

	s.storeInfo()
	if s.onStop != nil {
		s.onStop(s)
	}
	close(s.done)
	Log.Infof("session %s: stopped, reason=%s", s.sid, s.reason)
}

// handlePublish2 入站qos2落账，等PUBREL后才转路由
func (s *session) handlePublish2(ev *event) {
	pktid := ev.msg.PacketId()
	if _, dup := s.awaitingRel[pktid]; dup {
		// 对端DUP重发，已落账，幂等处理
		s.sign.AddQuota()
		ev.reply <- nil
		return
	}
	if s.cfg.MaxAwaitingRel > 0 && len(s.awaitingRel) >= s.cfg.MaxAwaitingRel {
		s.sign.AddQuota()
		Log.Warnf("session %s: awaiting rel full(%d), drop pktid=%d", s.sid, s.cfg.MaxAwaitingRel, pktid)
		ev.reply <- sessc.ErrDropped
		return
	}
	tid := s.relTimerID(pktid)
	_ = s.timers.Run(&cron.DelayTask{
		ID:       tid,
		DealTime: s.cfg.AwaitRel(),
		Fn: func(interface{}) {
			_ = s.mb.Post(&event{kind: evTimeout, tkind: timeoutRel, pktid: pktid})
		},
	})
	s.awaitingRel[pktid] = &relElem{msg: ev.msg, timerID: tid}
	ev.reply <- nil
}

func (s *session) handleSubscribe(ev *event) {
	reqSubs := ev.subs
	subs := s.hooks.ApplySubscribe(s.sid, reqSubs)
	if len(subs) == 0 {
		qoss := make([]byte, len(reqSubs))
		for i := range qoss {
			qoss[i] = message.QosFailure
		}
		if ev.ackFn != nil {
			ev.ackFn(qoss)
		}
		return
	}

	if !s.hasNewOrChanged(subs) {
		qoss := make([]byte, len(subs))
		for i := range subs {
			qoss[i] = subs[i].Qos
		}
		if ev.ackFn != nil {
			ev.ackFn(qoss)
		}
		return
	}

	granted := make([]byte, len(subs))
	for i := range subs {
		q, err := s.router.Subscribe(subs[i], s)
		if err != nil {
			Log.Errorf("session %s: subscribe %q err %v", s.sid, subs[i].Topic, err)
			granted[i] = message.QosFailure
			continue
		}
		granted[i] = q
	}
	if ev.ackFn != nil {
		ev.ackFn(granted)
	}

	accepted := make([]topic.Sub, 0, len(subs))
	for i := range subs {
		if granted[i] == message.QosFailure {
			continue
		}
		sub := topic.Sub{Topic: subs[i].Topic, Qos: granted[i]}
		accepted = append(accepted, sub)
		if idx := s.subIndex(sub.Topic); idx >= 0 {
			s.subs[idx].Qos = granted[i]
			continue
		}
		s.subs = append(s.subs, sub)
		s.dispatchRetained(sub)
	}
	if len(accepted) > 0 {
		s.hooks.FireSubscribed(s.sid, accepted)
	}
}

// dispatchRetained 新订阅过滤器补发保留消息，重复订阅不重发
func (s *session) dispatchRetained(sub topic.Sub) {
	var msgs []*message.PublishMessage
	if err := s.router.Retained(sub.Topic, &msgs); err != nil {
		Log.Errorf("session %s: retained %q err %v", s.sid, sub.Topic, err)
		return
	}
	for _, m := range msgs {
		cp := m.Copy()
		cp.SetRetain(true)
		if cp.QoS() > sub.Qos {
			_ = cp.SetQoS(sub.Qos)
		}
		s.dispatch(cp)
	}
}

func (s *session) handleUnsubscribe(ev *event) {
	topics := s.hooks.ApplyUnsubscribe(s.sid, ev.topics)
	for _, t := range topics {
		idx := s.subIndex(t)
		if idx < 0 {
			Log.Debugf("session %s: unsubscribe unknown filter %q", s.sid, t)
			continue
		}
		if err := s.router.Unsubscribe(t, s); err != nil {
			Log.Errorf("session %s: unsubscribe %q err %v", s.sid, t, err)
		}
		s.subs = append(s.subs[:idx], s.subs[idx+1:]...)
	}
}

func (s *session) handlePuback(pktid uint16) {
	tid, ok := s.awaitingAck[pktid]
	if !ok {
		Log.Debugf("session %s: puback unknown pktid=%d", s.sid, pktid)
		return
	}
	s.timers.Cancel(tid)
	delete(s.awaitingAck, pktid)
	if msg := s.removeInflight(pktid); msg != nil {
		s.hooks.FireMsgAcked(s.sid, msg)
	}
	s.dequeue()
}

func (s *session) handlePubrec(pktid uint16) {
	tid, ok := s.awaitingAck[pktid]
	if !ok {
		Log.Debugf("session %s: pubrec unknown pktid=%d", s.sid, pktid)
		return
	}
	s.timers.Cancel(tid)
	delete(s.awaitingAck, pktid)

	ctid := s.compTimerID(pktid)
	_ = s.timers.Run(&cron.DelayTask{
		ID:       ctid,
		DealTime: s.cfg.AwaitRel(),
		Fn: func(interface{}) {
			_ = s.mb.Post(&event{kind: evTimeout, tkind: timeoutComp, pktid: pktid})
		},
	})
	s.awaitingComp[pktid] = ctid

	if msg := s.removeInflight(pktid); msg != nil {
		s.hooks.FireMsgAcked(s.sid, msg)
	}
	s.dequeue()
}

// handlePubrel 入站qos2第二阶段，此处才真正转路由
func (s *session) handlePubrel(pktid uint16) {
	e, ok := s.awaitingRel[pktid]
	if !ok {
		Log.Debugf("session %s: pubrel unknown pktid=%d", s.sid, pktid)
		return
	}
	s.timers.Cancel(e.timerID)
	delete(s.awaitingRel, pktid)
	if err := s.router.Publish(e.msg); err != nil {
		Log.Errorf("session %s: route pktid=%d err %v", s.sid, pktid, err)
	}
	s.sign.AddQuota()
}

func (s *session) handlePubcomp(pktid uint16) {
	tid, ok := s.awaitingComp[pktid]
	if !ok {
		Log.Debugf("session %s: pubcomp unknown pktid=%d", s.sid, pktid)
		return
	}
	s.timers.Cancel(tid)
	delete(s.awaitingComp, pktid)
}

func (s *session) handleTimeout(ev *event) {
	switch ev.tkind {
	case timeoutAck:
		if _, ok := s.awaitingAck[ev.pktid]; !ok {
			return
		}
		delete(s.awaitingAck, ev.pktid)
		if s.client == nil {
			// 离线时不重试，恢复时统一重放
			return
		}
		for _, e := range s.inflight {
			if e.pktid == ev.pktid {
				s.redeliver(e)
				return
			}
		}
		// ack与定时器竞争，消息已出窗
		Log.Debugf("session %s: ack timeout pktid=%d not inflight", s.sid, ev.pktid)
		s.dequeue()
	case timeoutRel:
		if e, ok := s.awaitingRel[ev.pktid]; ok {
			delete(s.awaitingRel, ev.pktid)
			s.sign.AddQuota()
			Log.Warnf("session %s: await rel timeout, drop pktid=%d %s", s.sid, ev.pktid, e.msg)
		}
	case timeoutComp:
		if _, ok := s.awaitingComp[ev.pktid]; ok {
			delete(s.awaitingComp, ev.pktid)
			Log.Warnf("session %s: await comp timeout pktid=%d", s.sid, ev.pktid)
		}
	}
}

func (s *session) handleCollect() {
	s.storeInfo()
	if s.onReport != nil {
		s.onReport(s.Info())
	}
	s.armCollect()
}

// handleResume 新连接接管会话
func (s *session) handleResume(ev *event) {
	next := ev.client

	if s.expiredTimer != "" {
		s.timers.Cancel(s.expiredTimer)
		s.expiredTimer = ""
	}

	switch {
	case s.client == nil:
	case s.client == next:
		// 同一句柄重复resume，防御处理
	default:
		s.client.Kickout("duplicate client id", next)
		s.stopWatch()
	}

	// 已PUBREC未PUBCOMP的qos2，重放PUBREL
	compIds := make([]uint16, 0, len(s.awaitingComp))
	for pktid := range s.awaitingComp {
		compIds = append(compIds, pktid)
	}
	sort.Slice(compIds, func(i, j int) bool { return compIds[i] < compIds[j] })
	for _, pktid := range compIds {
		if err := next.RedeliverPubrel(pktid); err != nil {
			Log.Errorf("session %s: redeliver pubrel pktid=%d err %v", s.sid, pktid, err)
		}
	}

	for _, tid := range s.awaitingAck {
		s.timers.Cancel(tid)
	}
	for _, tid := range s.awaitingComp {
		s.timers.Cancel(tid)
	}
	s.awaitingAck = make(map[uint16]string)
	s.awaitingComp = make(map[uint16]string)

	s.stopWatch()
	s.client = next
	s.startWatch(next)

	// 在途消息按原入窗顺序重放
	for _, e := range s.inflight {
		s.redeliver(e)
	}
	s.dequeue()
}

func (s *session) handleClientDown(ev *event) (stop bool) {
	// 接管后旧句柄的断开通知作废，按句柄同一性判别
	if s.client == nil || ev.client != s.client {
		Log.Debugf("session %s: down from stale handle %s", s.sid, ev.client.ID())
		return false
	}
	if s.cleanSess {
		s.reason = sessc.ReasonNormal
		return true
	}
	s.stopWatch()
	s.client = nil
	s.expiredTimer = s.sid + "/expired"
	_ = s.timers.Run(&cron.DelayTask{
		ID:       s.expiredTimer,
		DealTime: s.cfg.Expired(),
		Fn: func(interface{}) {
			_ = s.mb.Post(&event{kind: evExpired})
		},
	})
	Log.Infof("session %s: client down, keep for %s", s.sid, s.cfg.Expired())
	return false
}

func (s *session) subIndex(filter []byte) int {
	for i := range s.subs {
		if string(s.subs[i].Topic) == string(filter) {
			return i
		}
	}
	return -1
}

// hasNewOrChanged 与现有订阅做差集，全量重复则无需走路由
func (s *session) hasNewOrChanged(subs []topic.Sub) bool {
	for i := range subs {
		idx := s.subIndex(subs[i].Topic)
		if idx < 0 || s.subs[idx].Qos != subs[i].Qos {
			return true
		}
	}
	return false
}
