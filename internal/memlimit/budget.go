package memlimit

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

var ErrExceedsCeiling = errors.New("размер превышает допустимый потолок памяти")

// headroomFactor approximates decoded size relative to the encoded payload.
const headroomFactor = 3

// Budget raises the runtime soft memory limit for the duration of a large
// decode and restores the previous limit afterwards.
type Budget struct {
	logger  *zap.Logger
	floor   int64
	ceiling int64

	mu     sync.Mutex
	active int
	prev   int64
	target int64
}

func New(log *zap.Logger, floor, ceiling int64) *Budget {
	return &Budget{logger: log, floor: floor, ceiling: ceiling}
}

func (b *Budget) Ceiling() int64 {
	return b.ceiling
}

// Target is the limit requested for a payload of the given size.
func (b *Budget) Target(size int64) int64 {
	target := size * headroomFactor
	if target < b.floor {
		target = b.floor
	}
	if target > b.ceiling {
		target = b.ceiling
	}
	return target
}

// Reserve raises the limit for a payload of size bytes. The returned release
// func must be called when the payload is no longer held; it is safe to call
// more than once.
func (b *Budget) Reserve(size int64) (func(), error) {
	if size > b.ceiling {
		return nil, fmt.Errorf("%w: %d > %d", ErrExceedsCeiling, size, b.ceiling)
	}

	target := b.Target(size)

	b.mu.Lock()
	if b.active == 0 {
		b.prev = debug.SetMemoryLimit(-1)
		b.target = b.prev
	}
	b.active++
	if target > b.target {
		b.target = target
		debug.SetMemoryLimit(target)
		b.logger.Debug("лимит памяти повышен",
			zap.Int64("limit", target),
			zap.Int64("payload_size", size),
		)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(b.release)
	}, nil
}

func (b *Budget) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active--
	if b.active > 0 {
		return
	}
	if b.target != b.prev {
		debug.SetMemoryLimit(b.prev)
		b.logger.Debug("лимит памяти восстановлен", zap.Int64("limit", b.prev))
	}
	b.target = 0
}
