package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControl(t *testing.T) {
	var c Control
	assert.False(t, c.Paused())

	assert.True(t, c.Pause())
	assert.True(t, c.Paused())
	assert.False(t, c.Pause(), "second pause is a no-op")

	assert.True(t, c.Resume())
	assert.False(t, c.Paused())
	assert.False(t, c.Resume())
}
