package sess

import (
	"github.com/lybxkl/gmqttd/broker/core/hook"
	sessc "github.com/lybxkl/gmqttd/broker/core/session"
	"github.com/lybxkl/gmqttd/broker/core/topic"
	"github.com/lybxkl/gmqttd/broker/gcfg"
	. "github.com/lybxkl/gmqttd/common/log"
	"github.com/lybxkl/gmqttd/util"
	"github.com/lybxkl/gmqttd/util/collection"
)

var _ sessc.Manager = (*memManager)(nil)

type memManager struct {
	router topic.Manager
	hooks  *hook.Bus

	localStore *collection.SafeMap // map[string]sessc.Session
	infos      *collection.SafeMap // map[string]sessc.Info

	sessOpts []Option
}

func NewMemManager(router topic.Manager, hooks *hook.Bus, opts ...Option) sessc.Manager {
	return &memManager{
		router:     router,
		hooks:      hooks,
		localStore: collection.NewSafeMap(),
		infos:      collection.NewSafeMap(),
		sessOpts:   opts,
	}
}

// GetOrCreate 同id会话单例。持久会话被新连接接管，
// clean连接或旧会话为clean时销毁重建。
func (prv *memManager) GetOrCreate(id string, cleanSess bool, client sessc.Client) (sessc.Session, bool, error) {
	if id == "" {
		// 未携带客户端id，分配一个，只能是clean会话
		id = gcfg.GetGCfg().Broker.AutoIdPrefix + util.Generate()
		cleanSess = true
	}
	if v, ok := prv.localStore.Get(id); ok {
		old := v.(sessc.Session)
		if !cleanSess && !old.CleanSess() {
			if err := old.Resume(client); err == nil {
				return old, true, nil
			}
			// 旧会话恰好终止，走新建
		} else {
			Log.Infof("session manager: rebuild %s(clean=%v over clean=%v)", id, cleanSess, old.CleanSess())
			_ = old.Destroy()
			<-old.Done()
		}
	}

	opts := make([]Option, 0, len(prv.sessOpts)+2)
	opts = append(opts, prv.sessOpts...)
	opts = append(opts, withOnStop(prv.onSessStop), withOnReport(prv.Register))
	ns := NewSession(id, cleanSess, client, prv.router, prv.hooks, opts...)
	prv.localStore.Set(id, ns)
	return ns, false, nil
}

func (prv *memManager) onSessStop(s *session) {
	if v, ok := prv.localStore.Get(s.sid); ok {
		if cur, same := v.(*session); same && cur == s {
			prv.localStore.Del(s.sid)
		}
	}
	prv.Unregister(s.sid)
}

func (prv *memManager) Get(id string) (sessc.Session, bool) {
	v, ok := prv.localStore.Get(id)
	if !ok {
		return nil, false
	}
	return v.(sessc.Session), true
}

func (prv *memManager) Exist(id string) bool {
	return prv.localStore.ContainsKey(id)
}

func (prv *memManager) Remove(s sessc.Session) error {
	if err := s.Destroy(); err != nil {
		return err
	}
	<-s.Done()
	return nil
}

func (prv *memManager) Register(info sessc.Info) {
	prv.infos.Set(info.ClientId, info)
}

func (prv *memManager) Unregister(id string) {
	prv.infos.Del(id)
}

func (prv *memManager) Snapshot() map[string]sessc.Info {
	out := make(map[string]sessc.Info, prv.infos.Size())
	_ = prv.infos.Range(func(k, v interface{}) error {
		out[k.(string)] = v.(sessc.Info)
		return nil
	})
	return out
}

func (prv *memManager) Close() error {
	var all []sessc.Session
	_ = prv.localStore.Range(func(_, v interface{}) error {
		all = append(all, v.(sessc.Session))
		return nil
	})
	for _, s := range all {
		_ = s.Destroy()
	}
	for _, s := range all {
		<-s.Done()
	}
	return nil
}
