package httpmiddleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowExhaustsAndRefills(t *testing.T) {
	l := NewSimpleTokenBucket(3, 3)
	now := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("10.0.0.1", now), "request %d within budget", i+1)
	}
	assert.False(t, l.allow("10.0.0.1", now))

	// Budgets are per IP.
	assert.True(t, l.allow("10.0.0.2", now))

	// A minute later the bucket has refilled.
	assert.True(t, l.allow("10.0.0.1", now.Add(time.Minute)))
}

func TestCapacityDefaultsToRate(t *testing.T) {
	l := NewSimpleTokenBucket(0, 2)
	now := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)

	assert.True(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
}
