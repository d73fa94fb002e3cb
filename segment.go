package corokernel

import "sync/atomic"

// segment is a pipe's zero-copy storage unit: a byte slice that may be
// shared, without copying, between the pipe that allocated it and any
// number of other pipes that later reference a window into it via Copy or
// Move. This is the Go analogue of io::PipeSegment / PipeReferencedSegment.
//
// Unlike the C++ original's 0-based "extra owners" refcount (a trick to
// keep the ARM Release() path down to four scratch registers), refs here
// is an ordinary 1-based owner count: a freshly allocated segment starts
// with one owner and is destroyed when the last release() brings it to
// zero. The externally observable lifetime behaviour is identical.
type segment struct {
	next  *segment
	data  []byte
	refs  int32
	owner *Pool    // nil if heap-allocated (oversized or PoolSet overflow)
	inner *segment // non-nil for a referenced window into another segment
}

func newOwnedSegment(data []byte, owner *Pool) *segment {
	return &segment{data: data, refs: 1, owner: owner}
}

// newReferencedSegment returns a segment whose bytes are data (expected to
// be a sub-slice of inner.data), taking a reference on inner so it outlives
// the window.
func newReferencedSegment(inner *segment, data []byte) *segment {
	inner.reference()
	return &segment{data: data, refs: 1, inner: inner}
}

func (s *segment) reference() { atomic.AddInt32(&s.refs, 1) }

// release drops one reference, destroying the segment once the count
// reaches zero: a referenced segment releases its inner segment in turn, an
// owned one returns its storage to its Pool (or leaves an oversized
// allocation for the garbage collector).
func (s *segment) release() {
	if atomic.AddInt32(&s.refs, -1) > 0 {
		return
	}
	if s.inner != nil {
		s.inner.release()
		return
	}
	if s.owner != nil {
		s.owner.Free(s.data[:cap(s.data)])
	}
}

func (s *segment) length() int { return len(s.data) }
