package topic

import (
	"github.com/lybxkl/gmqttd/broker/core/message"
)

// Sub 一条订阅：主题过滤器 + 授予的qos
type Sub struct {
	Topic []byte // 主题
	Qos   byte   // qos
}

// Manager 主题管理者：订阅树、保留消息、消息路由
type Manager interface {
	// Subscribe 返回授予的qos
	Subscribe(sub Sub, subscriber interface{}) (byte, error)
	Unsubscribe(topic []byte, subscriber interface{}) error

	// Subscribers 收集匹配topic的订阅者与各自的投递qos，qos为发布消息的qos，
	// 投递qos取发布qos与授予qos的较小者
	Subscribers(topic []byte, qos byte, subs *[]interface{}, qoss *[]byte) error

	// Publish 路由一条消息到所有匹配的订阅会话
	Publish(msg *message.PublishMessage) error

	Retain(msg *message.PublishMessage) error
	Retained(topic []byte, msgs *[]*message.PublishMessage) error

	Close() error
}
