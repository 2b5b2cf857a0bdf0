package core

import (
	"github.com/lybxkl/gmqttd/broker/core/hook"
	sess "github.com/lybxkl/gmqttd/broker/core/session"
	"github.com/lybxkl/gmqttd/broker/core/topic"
	"github.com/lybxkl/gmqttd/common/log"
)

type core struct {
	tm topic.Manager
	sm sess.Manager
	hk *hook.Bus
}

// Close 先停会话再停路由，避免关闭期间路由还在往会话投递
func (c *core) Close() error {
	if e := c.sm.Close(); e != nil {
		log.Log.Errorf("core close session manager err %+v", e)
	}
	if e := c.tm.Close(); e != nil {
		log.Log.Errorf("core close topic manager err %+v", e)
	}
	return nil
}
