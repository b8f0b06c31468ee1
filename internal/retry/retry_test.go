package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/minhyannv/taskflow/internal/config"
)

func TestPolicy_BaseGrowsAndCaps(t *testing.T) {
	p := NewPolicy(config.RetryConfig{
		BaseDelay:     100 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      time.Second,
	})

	assert.Equal(t, 100*time.Millisecond, p.Base(0))
	assert.Equal(t, 200*time.Millisecond, p.Base(1))
	assert.Equal(t, 400*time.Millisecond, p.Base(2))
	assert.Equal(t, 800*time.Millisecond, p.Base(3))
	assert.Equal(t, time.Second, p.Base(4))
	assert.Equal(t, time.Second, p.Base(5000))
	assert.Equal(t, 100*time.Millisecond, p.Base(-1))
}

func TestPolicy_DelayWithoutJitterIsExact(t *testing.T) {
	p := NewPolicy(config.RetryConfig{BaseDelay: 10 * time.Millisecond, BackoffFactor: 3, MaxDelay: time.Minute})
	assert.Equal(t, 90*time.Millisecond, p.Delay(2))
}

func TestPolicy_JitterStaysInBand(t *testing.T) {
	p := NewPolicy(config.RetryConfig{
		BaseDelay:     100 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      30 * time.Second,
		Jitter:        0.1,
	})

	for i := 0; i < 500; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 180*time.Millisecond)
		assert.LessOrEqual(t, d, 220*time.Millisecond)
	}
}

func TestPolicy_ZeroValueIsUsable(t *testing.T) {
	var p Policy
	p.BaseDelay = time.Millisecond
	p.Jitter = 0.5
	d := p.Delay(3)
	assert.GreaterOrEqual(t, d, 500*time.Microsecond)
	assert.LessOrEqual(t, d, 1500*time.Microsecond)
}
