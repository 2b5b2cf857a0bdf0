package sess

import (
	"github.com/lybxkl/gmqttd/broker/core/message"
	. "github.com/lybxkl/gmqttd/common/log"
	"github.com/lybxkl/gmqttd/util/cron"
)

// dispatch 路由投递入口。离线入队；qos0直发；窗口有空deliver，满则入队。
func (s *session) dispatch(msg *message.PublishMessage) {
	if s.client == nil {
		if msg.QoS() == message.QosAtMostOnce && !s.cfg.QueueQos0 {
			return
		}
		s.enqueue(msg)
		return
	}
	if msg.QoS() == message.QosAtMostOnce {
		s.sendQos0(msg)
		return
	}
	if s.windowFull() {
		s.enqueue(msg)
		return
	}
	s.deliver(msg)
}

func (s *session) windowFull() bool {
	return s.cfg.MaxInflight > 0 && len(s.inflight) >= int(s.cfg.MaxInflight)
}

func (s *session) enqueue(msg *message.PublishMessage) {
	s.queue.Enqueue(msg)
}

func (s *session) sendQos0(msg *message.PublishMessage) {
	cp := msg.Copy()
	cp.SetDup(false)
	cp.SetPacketId(0)
	if err := s.client.Deliver(cp); err != nil {
		Log.Errorf("session %s: deliver qos0 err %v", s.sid, err)
	}
}

// deliver 分配报文id，下发并入窗，挂重试定时器
func (s *session) deliver(msg *message.PublishMessage) {
	cp := msg.Copy()
	cp.SetDup(false)
	pktid := s.nextPacketID()
	cp.SetPacketId(pktid)

	if err := s.client.Deliver(cp); err != nil {
		// 发送失败不出窗，由重试定时器兜底
		Log.Errorf("session %s: deliver pktid=%d err %v", s.sid, pktid, err)
	}
	s.inflight = append(s.inflight, &inflightElem{pktid: pktid, msg: cp})
	s.await(pktid)
}

// await 挂PUBACK/PUBREC重试定时器
func (s *session) await(pktid uint16) {
	tid := s.ackTimerID(pktid)
	_ = s.timers.Run(&cron.DelayTask{
		ID:       tid,
		DealTime: s.cfg.RetryInterval(),
		Fn: func(interface{}) {
			_ = s.mb.Post(&event{kind: evTimeout, tkind: timeoutAck, pktid: pktid})
		},
	})
	s.awaitingAck[pktid] = tid
}

// dequeue 窗口有空时从队列补发，直到队空或窗满
func (s *session) dequeue() {
	for s.client != nil {
		if s.windowFull() {
			return
		}
		msg, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		if msg.QoS() == message.QosAtMostOnce {
			s.sendQos0(msg)
			continue
		}
		s.deliver(msg)
	}
}

// redeliver 原id重发，dup置位，重挂重试定时器
func (s *session) redeliver(e *inflightElem) {
	cp := e.msg.Copy()
	cp.SetDup(true)
	e.msg = cp
	if err := s.client.Deliver(cp); err != nil {
		Log.Errorf("session %s: redeliver pktid=%d err %v", s.sid, e.pktid, err)
	}
	s.await(e.pktid)
}

func (s *session) removeInflight(pktid uint16) *message.PublishMessage {
	for i, e := range s.inflight {
		if e.pktid == pktid {
			s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
			return e.msg
		}
	}
	return nil
}

// nextPacketID 1..65535回绕，跳过0与仍被占用的id
func (s *session) nextPacketID() uint16 {
	for {
		id := s.nextPktId
		s.nextPktId++
		if id == 0 {
			continue
		}
		if s.pktIdOccupied(id) {
			continue
		}
		return id
	}
}

func (s *session) pktIdOccupied(id uint16) bool {
	if _, ok := s.awaitingAck[id]; ok {
		return true
	}
	if _, ok := s.awaitingComp[id]; ok {
		return true
	}
	for _, e := range s.inflight {
		if e.pktid == id {
			return true
		}
	}
	return false
}
