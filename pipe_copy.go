package corokernel

// Copy transfers up to length unread bytes from from (starting offset bytes
// past its current read position) into to, without copying the underlying
// storage: to's new segments reference windows into from's segments. from's
// read position is not advanced. It suspends while to is throttled by its
// capacity, returning Complete(n) with the number of bytes actually copied
// (n < length only if to closed or the wait timed out).
func Copy(from, to *Pipe, offset, length int, timeout Timeout) AsyncFunc {
	written := 0
	var seg *segment
	segOffset := 0
	started := false
	waitFrame := &AsyncFrame{}
	waiting := false

	return func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		if !started {
			started = true
			seg = from.rseg
			segOffset = from.roff + offset
			for seg != nil && segOffset >= seg.length() {
				segOffset -= seg.length()
				seg = seg.next
			}
		}
		if waiting {
			waiting = false
			if to.IsClosed() || !waitFrame.WaitResult {
				return Complete(uint64(written))
			}
		}
		for written < length && seg != nil {
			if !to.writerCanAllocate() {
				seen := to.state.Load()
				waiting = true
				return Wait(&WaitSpec{Word: &to.state, Mask: ^uint32(0), Expect: seen, Invert: true, Timeout: timeout, Frame: waitFrame})
			}
			n := length - written
			if room := seg.length() - segOffset; n > room {
				n = room
			}
			ref := newReferencedSegment(seg, seg.data[segOffset:segOffset+n])
			segOffset += n
			if segOffset >= seg.length() {
				segOffset = 0
				seg = seg.next
			}
			to.insert(ref)
			to.Advance(n)
			written += n
		}
		return Complete(uint64(written))
	}
}

// Move transfers up to length unread bytes from from into to, consuming
// them from from as they are transferred. Whole segments are handed over
// by reference rather than split when possible, avoiding an allocation.
func Move(from, to *Pipe, length int, timeout Timeout) AsyncFunc {
	written := 0
	waitFrame := &AsyncFrame{}
	waiting := false
	reader := NewPipeReader(from)

	return func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		if waiting {
			waiting = false
			if to.IsClosed() || !waitFrame.WaitResult {
				return Complete(uint64(written))
			}
		}
		for written < length && from.rseg != nil {
			if !to.writerCanAllocate() {
				seen := to.state.Load()
				waiting = true
				return Wait(&WaitSpec{Word: &to.state, Mask: ^uint32(0), Expect: seen, Invert: true, Timeout: timeout, Frame: waitFrame})
			}

			var moved *segment
			if from.roff == 0 && from.rseg.length() <= length-written {
				moved = from.rseg
				moved.reference()
			} else {
				n := length - written
				if room := from.rseg.length() - from.roff; n > room {
					n = room
				}
				moved = newReferencedSegment(from.rseg, from.rseg.data[from.roff:from.roff+n])
			}
			reader.Advance(moved.length())
			to.insert(moved)
			to.Advance(moved.length())
			written += moved.length()
		}
		return Complete(uint64(written))
	}
}

// DuplexPipe bundles the two independent byte streams of a bidirectional
// connection, supplementing the unidirectional Pipe with the pairing a
// network or IPC transport needs — one Pipe per direction, sharing nothing,
// each with its own independent backpressure.
type DuplexPipe struct {
	In  *Pipe // bytes arriving from the peer
	Out *Pipe // bytes queued to send to the peer
}

// NewDuplexPipe returns a DuplexPipe whose two Pipes share alloc and
// capacity.
func NewDuplexPipe(alloc PipeAllocator, capacity int) *DuplexPipe {
	return &DuplexPipe{
		In:  NewPipe(alloc, capacity),
		Out: NewPipe(alloc, capacity),
	}
}

// Reader returns a PipeReader over the inbound stream.
func (d *DuplexPipe) Reader() PipeReader { return NewPipeReader(d.In) }

// Close closes both directions.
func (d *DuplexPipe) Close() {
	d.In.Close()
	d.Out.Close()
}
