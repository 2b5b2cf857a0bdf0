package message

import "fmt"

// PublishMessage 进程内的PUBLISH消息模型。
// 线上编解码不在本模块范围内，消息在broker内部始终以该结构传递。
type PublishMessage struct {
	topic    []byte
	payload  []byte
	qos      byte
	packetId uint16
	dup      bool
	retain   bool
}

func NewPublishMessage() *PublishMessage {
	return &PublishMessage{}
}

func (pm *PublishMessage) Topic() []byte {
	return pm.topic
}

// SetTopic 发布主题不允许携带通配符
func (pm *PublishMessage) SetTopic(topic []byte) error {
	if len(topic) == 0 {
		return fmt.Errorf("publish/SetTopic: empty topic")
	}
	for _, c := range topic {
		if c == '#' || c == '+' {
			return fmt.Errorf("publish/SetTopic: wildcard in publish topic %q", topic)
		}
	}
	pm.topic = topic
	return nil
}

func (pm *PublishMessage) Payload() []byte {
	return pm.payload
}

func (pm *PublishMessage) SetPayload(payload []byte) {
	pm.payload = payload
}

func (pm *PublishMessage) QoS() byte {
	return pm.qos
}

func (pm *PublishMessage) SetQoS(qos byte) error {
	if !ValidQos(qos) {
		return fmt.Errorf("publish/SetQoS: invalid QoS %d", qos)
	}
	pm.qos = qos
	return nil
}

func (pm *PublishMessage) PacketId() uint16 {
	return pm.packetId
}

func (pm *PublishMessage) SetPacketId(id uint16) {
	pm.packetId = id
}

func (pm *PublishMessage) Dup() bool {
	return pm.dup
}

func (pm *PublishMessage) SetDup(dup bool) {
	pm.dup = dup
}

func (pm *PublishMessage) Retain() bool {
	return pm.retain
}

func (pm *PublishMessage) SetRetain(retain bool) {
	pm.retain = retain
}

// Copy 复制一份消息，分发给多个会话时各自持有独立的报文id与dup位
func (pm *PublishMessage) Copy() *PublishMessage {
	cp := *pm
	return &cp
}

func (pm *PublishMessage) String() string {
	return fmt.Sprintf("PUBLISH topic=%s qos=%d pktid=%d dup=%v retain=%v payload=%d bytes",
		pm.topic, pm.qos, pm.packetId, pm.dup, pm.retain, len(pm.payload))
}
