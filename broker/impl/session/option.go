package sess

import (
	sessc "github.com/lybxkl/gmqttd/broker/core/session"
	"github.com/lybxkl/gmqttd/broker/gcfg"
	"github.com/lybxkl/gmqttd/util/cron"
)

type Option func(s *session)

// WithConfig 覆盖全局session配置，测试与按客户端定制用
func WithConfig(cfg gcfg.Session) Option {
	return func(s *session) {
		s.cfg = cfg
	}
}

func WithTimers(t cron.DelayTaskManage) Option {
	return func(s *session) {
		s.timers = t
	}
}

func WithQueue(q sessc.MQueue) Option {
	return func(s *session) {
		s.queue = q
	}
}

func WithSign(sign *Sign) Option {
	return func(s *session) {
		s.sign = sign
	}
}

func withOnStop(fn func(*session)) Option {
	return func(s *session) {
		s.onStop = fn
	}
}

func withOnReport(fn func(sessc.Info)) Option {
	return func(s *session) {
		s.onReport = fn
	}
}
