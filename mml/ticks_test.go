package mml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickStringShortDuration(t *testing.T) {
	assert.Equal(t, "=1", TickString(0))
	assert.Equal(t, "=48", TickString(48))
	assert.Equal(t, "=192", TickString(192))
}

func TestTickStringSplitsLongDurations(t *testing.T) {
	assert.Equal(t, "=192^=10", TickString(202))
	assert.Equal(t, "=192^=192^=1", TickString(385))
}
