package corokernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterExceptionIdentity(t *testing.T) {
	a := RegisterException("Overflow")
	b := RegisterException("Overflow")

	assert.NotSame(t, a, b, "two registrations with the same name are distinct singletons")
	assert.Equal(t, "Overflow", a.Name())
	assert.Equal(t, "Overflow", b.Name())
}

func TestExceptionOk(t *testing.T) {
	assert.False(t, Exception{}.Ok())
	assert.True(t, Exception{Type: ErrException}.Ok())
}

func TestCatchInterceptsThrownResult(t *testing.T) {
	custom := RegisterException("Custom")
	thrower := func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		return Throw(custom, 42)
	}

	var caught CaughtResult
	fn := Catch(&caught, thrower)

	var frame *AsyncFrame
	res := fn(&frame)

	require.Equal(t, TagComplete, res.Tag)
	require.True(t, caught.Caught())
	assert.Same(t, custom, caught.Exception.Type)
	assert.Equal(t, uint64(42), caught.Exception.Value)
}

func TestCatchPassesThroughNormalCompletion(t *testing.T) {
	fn := Catch(new(CaughtResult), func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		return Complete(7)
	})

	var frame *AsyncFrame
	res := fn(&frame)
	require.Equal(t, TagComplete, res.Tag)
	assert.Equal(t, uint64(7), res.Value)
}

func TestCatchForwardsSuspension(t *testing.T) {
	var w Word
	fn := Catch(new(CaughtResult), func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		return Wait(&WaitSpec{Word: &w, Mask: 1, Expect: 1, Timeout: Infinite, Frame: *frame})
	})

	var frame *AsyncFrame
	res := fn(&frame)
	assert.Equal(t, TagWait, res.Tag)
}
