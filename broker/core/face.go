package core

import (
	"sync"

	"github.com/lybxkl/gmqttd/broker/core/hook"
	sess "github.com/lybxkl/gmqttd/broker/core/session"
	"github.com/lybxkl/gmqttd/broker/core/topic"
)

type (
	Topic   = topic.Manager
	Session = sess.Manager
)

var (
	Core *core
	once = &sync.Once{}
)

func InitCore(p1 Topic, p2 Session, p3 *hook.Bus) {
	once.Do(func() {
		Core = &core{
			tm: p1,
			sm: p2,
			hk: p3,
		}
	})
}

func TopicManager() Topic {
	return Core.tm
}

func SessionManager() Session {
	return Core.sm
}

func HookBus() *hook.Bus {
	return Core.hk
}

func Close() error {
	return Core.Close()
}
