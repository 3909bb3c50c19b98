// Package chunk accumulates per-frame feature vectors into fixed-length
// temporal windows.
package chunk

import (
	"fmt"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

// Buffer is a ring of the most recent size vectors. Once full it emits the
// trailing window on the first full push and then every stride pushes;
// stride 1 emits an overlapping window for every frame. Not safe for
// concurrent use.
type Buffer struct {
	size   int
	stride int
	ring   []domain.FeatureVector
	next   int
	count  int
	pushed int
	lastAt int
}

func NewBuffer(size, stride int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("chunk stride must be positive, got %d", stride)
	}
	return &Buffer{
		size:   size,
		stride: stride,
		ring:   make([]domain.FeatureVector, size),
	}, nil
}

// Push appends v, which was extracted from frame, and reports whether a
// chunk is ready. The returned chunk owns its slice of vectors.
func (b *Buffer) Push(frame int, v domain.FeatureVector) (domain.Chunk, bool) {
	b.ring[b.next] = v
	b.next = (b.next + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.pushed++

	if b.count < b.size {
		return domain.Chunk{}, false
	}

	if b.lastAt != 0 && b.pushed-b.lastAt < b.stride {
		return domain.Chunk{}, false
	}
	b.lastAt = b.pushed

	return domain.Chunk{EndFrame: frame, Vectors: b.window()}, true
}

// window copies the ring out oldest first.
func (b *Buffer) window() []domain.FeatureVector {
	out := make([]domain.FeatureVector, 0, b.size)
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

// Len is the number of vectors currently held, at most the chunk size.
func (b *Buffer) Len() int {
	return b.count
}

// Pushed is the total number of vectors pushed since the last reset.
func (b *Buffer) Pushed() int {
	return b.pushed
}

func (b *Buffer) Reset() {
	clear(b.ring)
	b.next, b.count, b.pushed, b.lastAt = 0, 0, 0, 0
}
