package memimpl

import (
	"github.com/lybxkl/gmqttd/broker/core"
	"github.com/lybxkl/gmqttd/broker/core/hook"
	sessimpl "github.com/lybxkl/gmqttd/broker/impl/session"
	topicimpl "github.com/lybxkl/gmqttd/broker/impl/topic"
)

func init() {
	hookBus := hook.NewBus()
	topicManager := topicimpl.NewMemProvider()
	sessManager := sessimpl.NewMemManager(topicManager, hookBus)

	core.InitCore(topicManager, sessManager, hookBus)
}
