package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiterAllowsUpToLimit(t *testing.T) {
	l := newIPRateLimiter(3, time.Minute)
	assert.True(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("1.2.3.4"))
	assert.False(t, l.allow("1.2.3.4"))

	// Separate IPs keep separate budgets.
	assert.True(t, l.allow("5.6.7.8"))
}

func TestIPRateLimiterResetsAfterWindow(t *testing.T) {
	l := newIPRateLimiter(1, 10*time.Millisecond)
	assert.True(t, l.allow("1.2.3.4"))
	assert.False(t, l.allow("1.2.3.4"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.allow("1.2.3.4"))
}
