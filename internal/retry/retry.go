package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/minhyannv/taskflow/internal/config"
)

// Policy 指数退避策略: min(MaxDelay, BaseDelay*BackoffFactor^n) * U[1-Jitter, 1+Jitter]
type Policy struct {
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Jitter        float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewPolicy 从配置创建退避策略
func NewPolicy(cfg config.RetryConfig) *Policy {
	return &Policy{
		BaseDelay:     cfg.BaseDelay,
		BackoffFactor: cfg.BackoffFactor,
		MaxDelay:      cfg.MaxDelay,
		Jitter:        cfg.Jitter,
		rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Base 第 n 次重试（从 0 开始）未加抖动的延迟
func (p *Policy) Base(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay) * math.Pow(factor, float64(n))
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 1)) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Delay 第 n 次重试的实际延迟
func (p *Policy) Delay(n int) time.Duration {
	base := p.Base(n)
	if p.Jitter <= 0 || base <= 0 {
		return base
	}

	p.mu.Lock()
	if p.rand == nil {
		p.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	u := p.rand.Float64()
	p.mu.Unlock()

	scale := 1 - p.Jitter + 2*p.Jitter*u
	return time.Duration(float64(base) * scale)
}
