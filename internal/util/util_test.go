package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHexToUint64(t *testing.T) {
	assert.Equal(t, uint64(0xF700), HexToUint64("f700"))
}

func TestDecToUint64(t *testing.T) {
	assert.Equal(t, uint64(42), DecToUint64("42"))
}

func TestIsValidString(t *testing.T) {
	assert.True(t, IsValidString("hello world"))
	assert.False(t, IsValidString(""))
	assert.False(t, IsValidString("bad\x00byte"))
}
