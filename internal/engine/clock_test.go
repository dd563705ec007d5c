package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock_TracksWallClock(t *testing.T) {
	before := time.Now()
	got := SystemClock{}.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}
