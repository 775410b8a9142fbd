package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetClearTest(t *testing.T) {
	b := New(200)

	b.Set(70, 3)
	assert.False(t, b.Test(69))
	assert.True(t, b.Test(70))
	assert.True(t, b.Test(71))
	assert.True(t, b.Test(72))
	assert.False(t, b.Test(73))

	b.Clear(71, 1)
	assert.True(t, b.Test(70))
	assert.False(t, b.Test(71))
	assert.True(t, b.Test(72))
}

func TestFindContiguousZeros(t *testing.T) {
	b := New(64)
	b.Set(0, 3)
	b.Set(5, 2)

	assert.Equal(t, uint(3), b.FindContiguousZeros(2, 1))
	assert.Equal(t, uint(7), b.FindContiguousZeros(8, 1))
	assert.Equal(t, uint(8), b.FindContiguousZeros(8, 8), "aligned search skips the unaligned fit at 7")
}

func TestFindContiguousZerosFull(t *testing.T) {
	b := New(32)
	b.Set(0, 32)
	assert.Equal(t, b.Size(), b.FindContiguousZeros(1, 1))
}

func TestFindFirstZero(t *testing.T) {
	b := New(130)
	b.Set(0, 130)

	assert.Equal(t, b.Size(), b.FindFirstZero(0))

	b.Clear(129, 1)
	assert.Equal(t, uint(129), b.FindFirstZero(0), "search crosses word boundaries")
	assert.Equal(t, uint(129), b.FindFirstZero(64))

	b.Clear(3, 1)
	assert.Equal(t, uint(3), b.FindFirstZero(0))
	assert.Equal(t, uint(129), b.FindFirstZero(4), "from skips earlier clear bits")
}
