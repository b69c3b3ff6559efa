package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicyNextDelay(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Factor: 2, Max: time.Minute}

	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 16*time.Second, p.NextDelay(5))
}

func TestBackoffPolicyClamping(t *testing.T) {
	p := BackoffPolicy{Base: 10 * time.Second, Factor: 3, Max: time.Minute}
	assert.Equal(t, time.Minute, p.NextDelay(10))

	// Zero values fall back to sane defaults.
	var zero BackoffPolicy
	assert.Equal(t, time.Second, zero.NextDelay(1))
	assert.Equal(t, time.Second, zero.NextDelay(0))
}
