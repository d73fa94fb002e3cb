package corokernel

// Pool granularity and size-class bounds, mirroring
// base/MemPool.h's MEMPOOL_MIN_SIZE / MEMPOOL_MAX_SIZE / MEMPOOL_GRANULARITY,
// expressed in bytes rather than sizeof(intptr_t) multiples since Go has no
// equivalent compile-time sizeof.
const (
	MinBlockSize  = 16
	MaxBlockSize  = 256
	granularity   = 16
	defaultClasses = MaxBlockSize / granularity
)

// poolEntry is one node of a pool's freelist.
type poolEntry struct {
	next *poolEntry
	data []byte
}

// Pool is a fixed block-size freelist allocator, the Go analogue of
// base/MemPool.h's MemPool: a LIFO freelist of same-size blocks, refilled by
// new host-heap allocations as needed and never shrunk. Blocks are zeroed on
// Free so the next Alloc gets clean memory, matching the original's
// zero-on-return discipline (which in C let ARM's Free get away with only
// scratch registers; here it just keeps frame state from leaking between
// reuses).
type Pool struct {
	blockSize int
	free      *poolEntry
	watch     Word // non-zero (generation counter) bumped on every Free, for waiters
}

// NewPool returns a Pool whose blocks are at least blockSize bytes, rounded
// up to the pool granularity.
func NewPool(blockSize int) *Pool {
	return &Pool{blockSize: roundUpBlock(blockSize)}
}

func roundUpBlock(size int) int {
	if size < MinBlockSize {
		size = MinBlockSize
	}
	return (size + granularity - 1) &^ (granularity - 1)
}

// BlockSize returns the pool's fixed block size.
func (p *Pool) BlockSize() int { return p.blockSize }

// WatchWord exposes the pool's free-generation counter, so a task can
// Wait for it to change on the next Free. (Alloc itself never fails.)
func (p *Pool) WatchWord() *Word { return &p.watch }

// Alloc returns a zeroed block, reusing a freed one if available.
func (p *Pool) Alloc() []byte {
	if e := p.pop(); e != nil {
		return e.data
	}
	return make([]byte, p.blockSize)
}

// TryAlloc is Alloc, spelled to make non-blocking call sites self-documenting.
func (p *Pool) TryAlloc() ([]byte, bool) {
	b := p.Alloc()
	return b, b != nil
}

func (p *Pool) pop() *poolEntry {
	e := p.free
	if e == nil {
		return nil
	}
	p.free = e.next
	e.next = nil
	return e
}

// Free returns block to the pool, zeroing it first. block must have been
// returned by Alloc on this exact Pool.
func (p *Pool) Free(block []byte) {
	for i := range block {
		block[i] = 0
	}
	e := &poolEntry{data: block[:cap(block)][:p.blockSize]}
	e.next = p.free
	p.free = e
	p.watch.Add(1)
}

// PoolSet selects the smallest registered Pool whose block size fits size,
// or nil if size exceeds every class (the caller should fall back to a plain
// host allocation), mirroring MemPoolSize<>()'s class-selection template and
// its "larger chunks are malloc'd directly" fallback.
type PoolSet struct {
	pools []*Pool
}

// NewPoolSet builds the default ladder of size classes from MinBlockSize to
// MaxBlockSize in granularity steps, the Go equivalent of instantiating
// __MemPoolInstance<size> once per size actually used in the original.
func NewPoolSet() *PoolSet {
	ps := &PoolSet{}
	for size := MinBlockSize; size <= MaxBlockSize; size += granularity {
		ps.pools = append(ps.pools, NewPool(size))
	}
	return ps
}

// For returns the pool whose block size is the smallest that fits size, or
// nil if size > MaxBlockSize.
func (ps *PoolSet) For(size int) *Pool {
	for _, p := range ps.pools {
		if p.blockSize >= size {
			return p
		}
	}
	return nil
}

// Alloc allocates size bytes from the appropriate pool, or directly from the
// host heap if size exceeds MaxBlockSize — the Go analogue of
// MemPool::AllocLarge.
func (ps *PoolSet) Alloc(size int) []byte {
	if p := ps.For(size); p != nil {
		return p.Alloc()[:size]
	}
	return make([]byte, size)
}

// Free returns block (and its original allocation size) to the pool it came
// from, or is a no-op for an oversized, heap-allocated block (left for the
// garbage collector), the Go analogue of MemPoolFreeDynamic's NULL-owner
// branch.
func (ps *PoolSet) Free(block []byte, size int) {
	if p := ps.For(size); p != nil {
		p.Free(block[:cap(block)])
	}
}
