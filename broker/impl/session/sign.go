package sess

import (
	atomic2 "sync/atomic"
	"time"

	"github.com/bsm/ratelimit"
	"go.uber.org/atomic"
)

// Sign 入站qos1/2流控信号：固定配额 + 每秒速率。
// quota/limit 为0表示对应维度不限制。
type Sign struct {
	beyondQuota     *atomic.Bool // 超过配额信号
	tooManyMessages *atomic.Bool // 消息太过频繁
	rateLimit       *ratelimit.RateLimiter
	quota           int64 // 初始配额
	currQuota       int64 // 当前可使用配额
	limit           int
}

func NewSign(quota int64, limit int) *Sign {
	s := &Sign{
		beyondQuota:     atomic.NewBool(false),
		tooManyMessages: atomic.NewBool(false),
		quota:           quota,
		currQuota:       quota,
		limit:           limit,
	}
	if limit > 0 {
		s.rateLimit = ratelimit.New(limit, time.Second)
	}
	return s
}

// Limit 限流了
func (s *Sign) Limit() bool {
	if s.rateLimit == nil {
		return false
	}
	if s.rateLimit.Limit() {
		s.tooManyMessages.Store(true)
		return true
	}
	return false
}

func (s *Sign) BeyondQuota() bool {
	return s.beyondQuota.Load()
}

// ReqQuota 请求一个配额，只在qos2入站处理
func (s *Sign) ReqQuota() bool {
	if s.quota <= 0 {
		return true
	}
	if s.beyondQuota.Load() {
		return false
	}
	cur := atomic2.AddInt64(&s.currQuota, -1)
	if cur < 0 {
		s.beyondQuota.Store(true)
		atomic2.SwapInt64(&s.currQuota, 0)
		return false
	}
	return true
}

// AddQuota 归还一个配额，消息完成交付链后调用
func (s *Sign) AddQuota() {
	if s.quota <= 0 {
		return
	}
	cur := atomic2.AddInt64(&s.currQuota, 1)
	if cur > s.quota {
		atomic2.SwapInt64(&s.currQuota, s.quota)
	}
	if cur > 0 {
		s.beyondQuota.Store(false)
	}
}

// TooManyMessages 消息太过频繁
func (s *Sign) TooManyMessages() bool {
	return s.tooManyMessages.Load()
}
