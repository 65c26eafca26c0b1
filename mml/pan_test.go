package mml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindPanLinearEndpointsAndCenter(t *testing.T) {
	assert.Equal(t, 0, FindPanLinear(0))
	assert.Equal(t, 10, FindPanLinear(127))
	assert.Equal(t, 20, FindPanLinear(255))
}

func TestFindPanAccurateCenterIsUnityNorm(t *testing.T) {
	p, norm := FindPanAccurate(127)
	assert.Equal(t, 10, p)
	assert.InDelta(t, 1.0, norm, 0.05)
}

func TestFindPanAccurateHardLeftAndRight(t *testing.T) {
	p, _ := FindPanAccurate(255)
	assert.Equal(t, 20, p)

	p, _ = FindPanAccurate(0)
	assert.Equal(t, 0, p)
}
