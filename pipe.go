package corokernel

// PipePosition is a monotonically increasing byte offset into a Pipe's
// logical stream. Like Tick, arithmetic wraps and comparisons use the
// signed difference, so a pipe can run indefinitely without overflow ever
// producing a wrong ordering.
type PipePosition uint64

// Sub returns the signed difference p-other.
func (p PipePosition) Sub(other PipePosition) int64 { return int64(p - other) }

// Add advances p by n bytes (n may be negative).
func (p PipePosition) Add(n int) PipePosition { return PipePosition(int64(p) + int64(n)) }

// LengthUntil returns the non-negative byte count from p to other, or 0 if
// other is not after p.
func (p PipePosition) LengthUntil(other PipePosition) int {
	d := other.Sub(p)
	if d <= 0 {
		return 0
	}
	return int(d)
}

// PipeAllocator supplies storage for new pipe segments. AllocateSegment
// never blocks in this port: Go's heap allocator cannot fail the way a
// fixed arena can, so the suspension the C++ original models (waiting for
// pool memory to free up) is unnecessary here — see DESIGN.md.
type PipeAllocator interface {
	AllocateSegment(hint int) []byte
}

// poolAllocator is the default PipeAllocator: small requests come from a
// PoolSet, oversized ones fall back to a plain heap allocation, mirroring
// MemPool::AllocLarge.
type poolAllocator struct {
	pools *PoolSet
}

// NewPoolAllocator returns a PipeAllocator backed by a fresh PoolSet.
func NewPoolAllocator() PipeAllocator {
	return &poolAllocator{pools: NewPoolSet()}
}

func (a *poolAllocator) AllocateSegment(hint int) []byte {
	return a.pools.Alloc(hint)
}

// Pipe is a zero-copy, segmented byte stream: writes and Copy/Move append
// referenced-counted segments instead of copying bytes between pipes. This
// is a direct port of io::Pipe, inspired (per the original's own comment)
// by .NET's System.IO.Pipelines.
type Pipe struct {
	allocator PipeAllocator
	capacity  int // 0 means unbounded; bounds apos-rpos for writer throttling

	rseg *segment
	roff int
	pwseg **segment // insertion point for the next appended segment
	woff  int

	rpos PipePosition
	wpos PipePosition
	apos PipePosition

	total uint64
	state Word // bumped on every mutation; the wait condition for all suspensions below
}

// NewPipe returns an open Pipe using alloc for new segment storage. A
// capacity of 0 means the writer may allocate arbitrarily far ahead of the
// reader; a positive capacity makes Allocate suspend while apos-rpos is at
// least capacity. A single allocation that starts below capacity may take
// apos-rpos past it.
func NewPipe(alloc PipeAllocator, capacity int) *Pipe {
	if alloc == nil {
		alloc = NewPoolAllocator()
	}
	p := &Pipe{allocator: alloc, capacity: capacity}
	p.pwseg = &p.rseg
	return p
}

// Unprocessed returns the number of bytes written but not yet read.
func (p *Pipe) Unprocessed() int { return p.rpos.LengthUntil(p.wpos) }

// IsClosed reports whether the writer has closed the pipe.
func (p *Pipe) IsClosed() bool { return p.pwseg == nil }

// IsEmpty reports whether every written byte has been read.
func (p *Pipe) IsEmpty() bool { return p.rpos == p.wpos }

// IsCompleted reports whether the pipe is closed and fully drained.
func (p *Pipe) IsCompleted() bool { return p.IsEmpty() && p.IsClosed() }

func (p *Pipe) writerCanAllocate() bool {
	if p.capacity <= 0 {
		return true
	}
	return p.apos.Sub(p.rpos) < int64(p.capacity)
}

// cleanup releases every retained segment and collapses the cursors, the Go
// analogue of Pipe::Cleanup. It leaves the pipe permanently closed: callers
// that want to reuse it must call Reset.
func (p *Pipe) cleanup() {
	seg := p.rseg
	for seg != nil {
		next := seg.next
		seg.release()
		seg = next
	}
	p.rseg = nil
	p.pwseg = nil
	p.roff, p.woff = 0, 0
	p.rpos, p.apos = p.wpos, p.wpos
}

// Reset drains and reopens the pipe for a new stream, the way a pooled
// connection's pipe is recycled between uses.
func (p *Pipe) Reset() {
	if p.rseg != nil {
		p.cleanup()
	}
	p.rseg = nil
	p.pwseg = &p.rseg
	p.rpos, p.apos, p.wpos = 0, 0, 0
	p.roff, p.woff = 0, 0
	p.state.Add(1)
}

// Close closes the writer side. No more data can be written; the reader
// continues draining whatever remains. Closing never blocks.
func (p *Pipe) Close() {
	if p.IsClosed() {
		return
	}
	p.pwseg = nil
	p.woff = 0
	p.state.Add(1)
	if p.IsEmpty() {
		p.cleanup()
	}
}

// insert appends seg as the next write segment, splitting the current write
// segment's tail into a referenced remainder if one is pending. This is the
// Go port of Pipe::WriterInsert, used directly by Copy/Move and indirectly
// by Allocate. It only reserves capacity (apos): seg's bytes are not
// readable until the caller commits them with Advance, since Allocate's
// caller (Write) fills seg in place after insert returns. Copy and Move
// insert already-final bytes, so they call Advance themselves right after.
func (p *Pipe) insert(seg *segment) {
	if p.woff != 0 {
		cur := *p.pwseg
		if p.woff < cur.length() {
			split := newReferencedSegment(cur, cur.data[p.woff:])
			cur.next = split
			cur.data = cur.data[:p.woff]
		}
		p.pwseg = &cur.next
		p.woff = 0
	}
	seg.next = *p.pwseg
	*p.pwseg = seg
	p.apos = p.apos.Add(seg.length())
	p.state.Add(1)
}

// Allocate grows the pipe by at least hint bytes, throttling (suspending)
// while the writer is ahead of the reader by the pipe's capacity or more.
// It returns Complete(0) if the pipe is closed or allocation could not
// proceed before timeout elapsed, else Complete(n) with the allocated
// segment's actual length.
func (p *Pipe) Allocate(hint int, timeout Timeout) AsyncFunc {
	fr := &AsyncFrame{}
	return func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = fr
		}
		if p.IsClosed() {
			return Complete(0)
		}
		if fr.Cont == 1 {
			fr.Cont = 0
			if !fr.WaitResult {
				return Complete(0)
			}
			if p.IsClosed() {
				return Complete(0)
			}
		}
		if !p.writerCanAllocate() {
			seen := p.state.Load()
			fr.Cont = 1
			return Wait(&WaitSpec{Word: &p.state, Mask: ^uint32(0), Expect: seen, Invert: true, Timeout: timeout, Frame: fr})
		}
		data := p.allocator.AllocateSegment(hint)
		seg := newOwnedSegment(data, nil)
		p.insert(seg)
		return Complete(uint64(seg.length()))
	}
}

// Advance commits count freshly written bytes, the Go port of
// Pipe::WriterAdvance.
func (p *Pipe) Advance(count int) {
	p.woff += count
	p.wpos = p.wpos.Add(count)
	p.state.Add(1)
	for (*p.pwseg) != nil && p.woff >= (*p.pwseg).length() {
		p.woff -= (*p.pwseg).length()
		p.pwseg = &(*p.pwseg).next
	}
}

// Write copies data into the pipe, allocating new segments as needed, up to
// timeout. It returns Complete(n) with the number of bytes actually
// written; n < len(data) only if the pipe closed or Allocate timed out.
func (p *Pipe) Write(data []byte, timeout Timeout) AsyncFunc {
	written := 0
	var alloc AsyncFunc
	var allocFrame *AsyncFrame
	return func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		for written < len(data) {
			if p.wpos == p.apos {
				if alloc == nil {
					alloc = p.Allocate(len(data)-written, timeout)
				}
				res := alloc(&allocFrame)
				if res.Tag != TagComplete {
					return res
				}
				alloc = nil
				allocFrame = nil
				if res.Value == 0 {
					return Complete(uint64(written))
				}
				continue
			}
			cur := *p.pwseg
			room := cur.length() - p.woff
			n := len(data) - written
			if n > room {
				n = room
			}
			copy(cur.data[p.woff:p.woff+n], data[written:written+n])
			written += n
			p.Advance(n)
		}
		return Complete(uint64(written))
	}
}

// Completed suspends until the pipe is fully closed and drained, or timeout
// elapses, returning Complete(1) or Complete(0) respectively.
func (p *Pipe) Completed(timeout Timeout) AsyncFunc {
	fr := &AsyncFrame{}
	return func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = fr
		}
		if fr.Cont == 1 {
			fr.Cont = 0
			if !fr.WaitResult && !p.IsCompleted() {
				return Complete(0)
			}
		}
		if p.IsCompleted() {
			return Complete(1)
		}
		seen := p.state.Load()
		fr.Cont = 1
		return Wait(&WaitSpec{Word: &p.state, Mask: ^uint32(0), Expect: seen, Invert: true, Timeout: timeout, Frame: fr})
	}
}
