package gcfg

import "time"

type Session struct {
	MaxInflight        uint16 `toml:"max_inflight" validate:"default=0"`         // 发往客户端未确认的qos1/2消息上限，0表示不限制
	MaxAwaitingRel     int    `toml:"max_awaiting_rel" validate:"default=100"`   // 入站qos2等待PUBREL的消息上限，0表示不限制
	AwaitRelTimeout    int64  `toml:"await_rel_timeout" validate:"default=8"`    // 等待PUBREL/PUBCOMP超时，秒
	UnackRetryInterval int64  `toml:"unack_retry_interval" validate:"default=20"` // 未确认qos1/2消息重发间隔，秒
	ExpiredAfter       int64  `toml:"expired_after" validate:"default=48"`       // 持久会话保留时长，小时
	CollectInterval    int64  `toml:"collect_interval" validate:"default=0"`     // 会话信息上报间隔，秒，0关闭
	PublishTimeout     int64  `toml:"publish_timeout" validate:"default=60"`     // 入站qos2同步publish的调用方超时，秒
	QueueSize          int    `toml:"queue_size" validate:"default=100"`         // 离线/超窗消息队列上限
	QueueQos0          bool   `toml:"queue_qos0"`                                // 离线时qos0消息是否也排队
	Quota              int64  `toml:"quota" validate:"default=0"`                // 入站qos2配额，0表示不限制
	QuotaLimit         int    `toml:"quota_limit" validate:"default=0"`          // 入站每秒消息数限制，0表示不限制
}

func (s Session) AwaitRel() time.Duration {
	return time.Duration(s.AwaitRelTimeout) * time.Second
}

func (s Session) RetryInterval() time.Duration {
	return time.Duration(s.UnackRetryInterval) * time.Second
}

func (s Session) Expired() time.Duration {
	return time.Duration(s.ExpiredAfter) * time.Hour
}

func (s Session) Collect() time.Duration {
	return time.Duration(s.CollectInterval) * time.Second
}

func (s Session) PublishDeadline() time.Duration {
	return time.Duration(s.PublishTimeout) * time.Second
}
