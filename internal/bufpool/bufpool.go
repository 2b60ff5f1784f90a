// Package bufpool recycles the read buffers responses are assembled in.
package bufpool

import "sync"

// Pool hands out byte slices with at least Size bytes of capacity.
// Slices that grew past MaxRetained are dropped on Put so that one huge
// response does not pin its buffer for the life of the process.
type Pool struct {
	Size        int
	MaxRetained int

	pool sync.Pool
}

func New(size, maxRetained int) *Pool {
	p := &Pool{Size: size, MaxRetained: maxRetained}
	p.pool.New = func() any {
		b := make([]byte, 0, p.Size)
		return &b
	}
	return p
}

// Get returns an empty slice.
func (p *Pool) Get() *[]byte {
	b := p.pool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

func (p *Pool) Put(b *[]byte) {
	if b == nil || cap(*b) > p.MaxRetained {
		return
	}
	*b = (*b)[:0]
	p.pool.Put(b)
}
