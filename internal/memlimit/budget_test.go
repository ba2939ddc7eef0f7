package memlimit

import (
	"math"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func withLimit(t *testing.T, limit int64) {
	prev := debug.SetMemoryLimit(limit)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })
}

func TestBudget_Reserve_RaisesAndRestores(t *testing.T) {
	withLimit(t, 64<<20)
	b := New(zaptest.NewLogger(t), 128<<20, 1<<30)

	release, err := b.Reserve(100 << 20)
	require.NoError(t, err)
	assert.Equal(t, int64(300<<20), debug.SetMemoryLimit(-1))

	release()
	release()
	assert.Equal(t, int64(64<<20), debug.SetMemoryLimit(-1))
}

func TestBudget_Reserve_NeverLowers(t *testing.T) {
	withLimit(t, math.MaxInt64)
	b := New(zaptest.NewLogger(t), 1<<20, 1<<30)

	release, err := b.Reserve(10)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), debug.SetMemoryLimit(-1))
	release()
	assert.Equal(t, int64(math.MaxInt64), debug.SetMemoryLimit(-1))
}

func TestBudget_Reserve_Nested(t *testing.T) {
	withLimit(t, 10<<20)
	b := New(zaptest.NewLogger(t), 0, 1<<30)

	r1, err := b.Reserve(20 << 20)
	require.NoError(t, err)
	r2, err := b.Reserve(40 << 20)
	require.NoError(t, err)
	assert.Equal(t, int64(120<<20), debug.SetMemoryLimit(-1))

	r2()
	assert.Equal(t, int64(120<<20), debug.SetMemoryLimit(-1))
	r1()
	assert.Equal(t, int64(10<<20), debug.SetMemoryLimit(-1))
}

func TestBudget_Reserve_OverCeiling(t *testing.T) {
	b := New(zaptest.NewLogger(t), 1, 1024)

	_, err := b.Reserve(1025)
	assert.ErrorIs(t, err, ErrExceedsCeiling)
}

func TestBudget_Target_Clamped(t *testing.T) {
	b := New(zaptest.NewLogger(t), 100, 1000)

	assert.Equal(t, int64(100), b.Target(1))
	assert.Equal(t, int64(300), b.Target(100))
	assert.Equal(t, int64(1000), b.Target(900))
}
