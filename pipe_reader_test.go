package corokernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPipeReaderRequireUntilDelimitedRecords drives the line-oriented
// "echo" scenario: two lines, only the first terminated, the pipe closed
// after both are written (no more data will ever arrive).
func TestPipeReaderRequireUntilDelimitedRecords(t *testing.T) {
	p := NewPipe(NewPoolAllocator(), 0)
	reader := NewPipeReader(p)

	driveToComplete(t, p.Write([]byte("Line 1\nLine 2"), Infinite))
	p.Close()

	res := driveToComplete(t, reader.RequireUntil('\n', Infinite))
	require.Equal(t, uint64(7), res.Value)
	assert.True(t, reader.Matches([]byte("Line 1\n"), 0))

	reader.Advance(int(res.Value))

	res2 := driveToComplete(t, reader.RequireUntil('\n', Infinite))
	assert.Equal(t, uint64(0), res2.Value, "no further newline arrives and the pipe is closed")
	assert.Equal(t, 6, reader.Available())
	assert.True(t, reader.Matches([]byte("Line 2"), 0))
}

func TestPipeReaderRequireUntilSuspendsUntilDelimiterArrives(t *testing.T) {
	p := NewPipe(NewPoolAllocator(), 0)
	reader := NewPipeReader(p)

	fn := reader.RequireUntil('\n', Infinite)
	var frame *AsyncFrame
	res := fn(&frame)
	require.Equal(t, TagWait, res.Tag, "nothing written yet, so the read must suspend")

	driveToComplete(t, p.Write([]byte("partial"), Infinite))
	res.Wait.Frame.WaitResult = true
	res = fn(&frame)
	require.Equal(t, TagWait, res.Tag, "still no delimiter byte present")

	driveToComplete(t, p.Write([]byte("\n"), Infinite))
	res.Wait.Frame.WaitResult = true
	res = fn(&frame)
	require.Equal(t, TagComplete, res.Tag)
	assert.Equal(t, uint64(len("partial\n")), res.Value)
}

func TestPipeReaderReadNowAndPeek(t *testing.T) {
	p := NewPipe(NewPoolAllocator(), 0)
	reader := NewPipeReader(p)
	driveToComplete(t, p.Write([]byte("abcdef"), Infinite))

	assert.Equal(t, int('a'), reader.Peek(0))
	assert.Equal(t, int('c'), reader.Peek(2))
	assert.Equal(t, -1, reader.Peek(100))

	buf := make([]byte, 3)
	n := reader.ReadNow(buf)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(buf))
	assert.Equal(t, 3, reader.Available())
}

func TestPipeReaderEnumerateWalksSegmentsWithoutCopying(t *testing.T) {
	p := NewPipe(NewPoolAllocator(), 0)
	// Each Write call lands in its own segment, so reading across all of
	// them exercises Enumerate's segment-to-segment walk.
	driveToComplete(t, p.Write([]byte("abcd"), Infinite))
	driveToComplete(t, p.Write([]byte("efgh"), Infinite))
	p.Close()
	reader := NewPipeReader(p)

	var got []byte
	for b := range reader.All() {
		got = append(got, b)
	}
	assert.Equal(t, "abcdefgh", string(got))
}

func TestPipeReaderEnumerateStopsEarlyWhenYieldReturnsFalse(t *testing.T) {
	p := NewPipe(NewPoolAllocator(), 0)
	driveToComplete(t, p.Write([]byte("abcdef"), Infinite))
	reader := NewPipeReader(p)

	var got []byte
	for b := range reader.Enumerate(6) {
		got = append(got, b)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, "abc", string(got))
}
