package corokernel

import (
	"bytes"
	"iter"
)

// PipeReader is a read-only view onto a Pipe, mirroring io::PipeReader.
type PipeReader struct {
	pipe *Pipe
}

// NewPipeReader wraps pipe for reading.
func NewPipeReader(pipe *Pipe) PipeReader { return PipeReader{pipe: pipe} }

// Available returns the number of unread bytes currently buffered.
func (r PipeReader) Available() int { return r.pipe.Unprocessed() }

// Position returns the reader's current stream position.
func (r PipeReader) Position() PipePosition { return r.pipe.rpos }

// IsComplete reports whether the underlying pipe is closed (no more data
// will ever arrive, though some may remain unread).
func (r PipeReader) IsComplete() bool { return r.pipe.IsClosed() }

// Require suspends until at least count bytes are available, the pipe
// closes, or timeout elapses, returning Complete(n) with the number of
// bytes actually available (n may be less than count only if the pipe
// closed or the wait timed out).
func (r PipeReader) Require(count int, timeout Timeout) AsyncFunc {
	p := r.pipe
	fr := &AsyncFrame{}
	return func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = fr
		}
		if fr.Cont == 1 {
			fr.Cont = 0
			if !fr.WaitResult && !p.IsClosed() {
				return Complete(uint64(p.Unprocessed()))
			}
		}
		if p.Unprocessed() >= count || p.IsClosed() {
			return Complete(uint64(p.Unprocessed()))
		}
		seen := p.state.Load()
		fr.Cont = 1
		return Wait(&WaitSpec{Word: &p.state, Mask: ^uint32(0), Expect: seen, Invert: true, Timeout: timeout, Frame: fr})
	}
}

// RequireUntil suspends until b appears in the unread data, the pipe
// closes, or timeout elapses, returning Complete(n) where n is the byte
// offset one past b (so the caller can Read exactly the delimited record),
// or Complete(0) if b never appears.
func (r PipeReader) RequireUntil(b byte, timeout Timeout) AsyncFunc {
	p := r.pipe
	checked := 0   // offset already scanned without finding b
	waitFrom := 0  // checked as of the pending req's creation
	var req AsyncFunc
	var reqFrame *AsyncFrame
	return func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		for {
			if idx := r.indexByteFrom(checked, b); idx >= 0 {
				return Complete(uint64(idx + 1))
			}
			if req == nil {
				checked = p.Unprocessed()
				if p.IsClosed() {
					return Complete(0)
				}
				waitFrom = checked
				req = r.Require(checked+1, timeout)
			}
			res := req(&reqFrame)
			if res.Tag != TagComplete {
				return res
			}
			req = nil
			reqFrame = nil
			if int(res.Value) <= waitFrom {
				return Complete(0)
			}
		}
	}
}

// indexByteFrom scans unread bytes starting at offset for b, returning its
// offset from the current read position, or -1.
func (r PipeReader) indexByteFrom(offset int, b byte) int {
	p := r.pipe
	seg := p.rseg
	off := p.roff + offset
	pos := offset
	for seg != nil {
		if off < seg.length() {
			if idx := bytes.IndexByte(seg.data[off:], b); idx >= 0 {
				if pos+idx >= p.Unprocessed() {
					return -1
				}
				return pos + idx
			}
			pos += seg.length() - off
			off = 0
			seg = seg.next
			continue
		}
		off -= seg.length()
		seg = seg.next
	}
	return -1
}

// ReadNow copies up to len(buf) unread bytes into buf without blocking,
// advancing the reader, and returns the number of bytes copied.
func (r PipeReader) ReadNow(buf []byte) int {
	p := r.pipe
	count := len(buf)
	if avail := p.Unprocessed(); count > avail {
		count = avail
	}
	if count == 0 {
		return 0
	}
	n := copy(buf, r.peekBytes(0, count))
	r.Advance(n)
	return n
}

// Read suspends (as Require does) until at least one byte is available,
// then copies up to len(buf) bytes, repeating until buf is full, the pipe
// closes, or timeout elapses. It returns Complete(n) with the total bytes
// read.
func (r PipeReader) Read(buf []byte, timeout Timeout) AsyncFunc {
	p := r.pipe
	read := 0
	var req AsyncFunc
	var reqFrame *AsyncFrame
	return func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		for read < len(buf) {
			if p.Unprocessed() == 0 {
				if req == nil {
					req = r.Require(1, timeout)
				}
				res := req(&reqFrame)
				if res.Tag != TagComplete {
					return res
				}
				req = nil
				reqFrame = nil
				if res.Value == 0 {
					break
				}
				continue
			}
			read += r.ReadNow(buf[read:])
		}
		return Complete(uint64(read))
	}
}

// Advance marks count bytes as consumed without copying them, releasing any
// segments that become fully drained. This is the Go port of
// Pipe::ReaderRead's segment bookkeeping, factored out for zero-copy
// consumption.
func (r PipeReader) Advance(count int) {
	p := r.pipe
	if count == 0 {
		return
	}
	p.rpos = p.rpos.Add(count)
	p.state.Add(1)

	remain := p.rseg.length() - p.roff
	if remain > count {
		p.roff += count
		return
	}
	count -= remain
	last := p.rseg
	for {
		next := last.next
		if p.pwseg == &last.next {
			p.pwseg = &p.rseg
		}
		last.next = nil
		last.release()

		if next == nil {
			p.rseg = nil
			p.roff, p.woff = 0, 0
			return
		}
		last = next
		if count < last.length() {
			p.rseg = last
			p.roff = count
			return
		}
		count -= last.length()
	}
}

// Peek returns the unread byte at offset, or -1 if offset is beyond what is
// currently buffered.
func (r PipeReader) Peek(offset int) int {
	p := r.pipe
	if offset < 0 || offset >= p.Unprocessed() {
		return -1
	}
	off := p.roff + offset
	for seg := p.rseg; seg != nil; seg = seg.next {
		if off < seg.length() {
			return int(seg.data[off])
		}
		off -= seg.length()
	}
	return -1
}

// peekBytes returns (by copy, since it may span segments) up to count
// unread bytes starting at offset.
func (r PipeReader) peekBytes(offset, count int) []byte {
	p := r.pipe
	out := make([]byte, 0, count)
	off := p.roff + offset
	for seg := p.rseg; len(out) < count && seg != nil; seg = seg.next {
		if off < seg.length() {
			block := seg.length() - off
			if need := count - len(out); block > need {
				block = need
			}
			out = append(out, seg.data[off:off+block]...)
			off = 0
		} else {
			off -= seg.length()
		}
	}
	return out
}

// Span returns, without copying, the contiguous unread bytes starting at
// offset up to the end of the segment they live in. A caller that needs
// more than one segment's worth should call Span again after Advance.
func (r PipeReader) Span(offset int) []byte {
	p := r.pipe
	avail := p.Unprocessed() - offset
	if offset < 0 || avail <= 0 {
		return nil
	}
	off := p.roff + offset
	for seg := p.rseg; seg != nil; seg = seg.next {
		if off < seg.length() {
			end := seg.length()
			if end-off > avail {
				end = off + avail
			}
			return seg.data[off:end]
		}
		off -= seg.length()
	}
	return nil
}

// Matches reports whether the unread bytes starting at offset equal data,
// without consuming them (data may span multiple segments). The comparison
// runs against a copy of those bytes gathered by peekBytes.
func (r PipeReader) Matches(data []byte, offset int) bool {
	if r.pipe.Unprocessed()-offset < len(data) {
		return false
	}
	return bytes.Equal(r.peekBytes(offset, len(data)), data)
}

// Enumerate returns a range-over-func iterator over up to length unread
// bytes (fewer if that much isn't currently buffered), walking segments
// without copying. This is the Go analogue of io::PipeReader::Enumerate.
func (r PipeReader) Enumerate(length int) iter.Seq[byte] {
	p := r.pipe
	if avail := p.Unprocessed(); length > avail {
		length = avail
	}
	startSeg, startOff := p.rseg, p.roff
	return func(yield func(byte) bool) {
		seg, off, remaining := startSeg, startOff, length
		for remaining > 0 {
			if !yield(seg.data[off]) {
				return
			}
			remaining--
			off++
			if off >= seg.length() {
				seg = seg.next
				off = 0
			}
		}
	}
}

// All returns an iterator over every currently-unread byte.
func (r PipeReader) All() iter.Seq[byte] { return r.Enumerate(r.Available()) }
