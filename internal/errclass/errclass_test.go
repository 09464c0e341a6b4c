package errclass

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTimeout struct{ err error }

func (e *fakeTimeout) Error() string { return fmt.Sprintf("timeout: %v", e.err) }
func (e *fakeTimeout) Unwrap() error { return e.err }
func (e *fakeTimeout) Class() Class  { return Retryable }

type fakeFatal struct{}

func (e *fakeFatal) Error() string { return "fatal condition" }
func (e *fakeFatal) Class() Class  { return Fatal }

func TestClassOfFindsClassifierThroughWrapping(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := fmt.Errorf("bucket call failed: %w", &fakeTimeout{err: base})

	require.Equal(t, Retryable, ClassOf(wrapped))
	require.True(t, IsRetryable(wrapped))
}

func TestClassOfUnclassifiedForPlainErrors(t *testing.T) {
	require.Equal(t, Unclassified, ClassOf(errors.New("plain")))
}

func TestClassOfNilIsNone(t *testing.T) {
	require.Equal(t, Class("none"), ClassOf(nil))
}

func TestFatalIsNotRetryable(t *testing.T) {
	require.False(t, IsRetryable(&fakeFatal{}))
	require.Equal(t, Fatal, ClassOf(&fakeFatal{}))
}
