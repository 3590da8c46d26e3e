package graphsync

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCloser is a test double that implements io.Closer
type mockCloser struct {
	closeErr   error
	closeCalls int
}

func (m *mockCloser) Close() error {
	m.closeCalls++
	return m.closeErr
}

func TestCloseWithLog_NilCloser(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	CloseWithLog(nil, logger, "edge feed")

	assert.Empty(t, logBuf.String())
}

func TestCloseWithLog_SuccessfulClose(t *testing.T) {
	closer := &mockCloser{}
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	CloseWithLog(closer, logger, "edge feed")

	assert.Equal(t, 1, closer.closeCalls)
	assert.Empty(t, logBuf.String())
}

func TestCloseWithLog_CloseError(t *testing.T) {
	closer := &mockCloser{closeErr: errors.New("close failed: connection reset")}
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	CloseWithLog(closer, logger, "registry client")

	assert.Equal(t, 1, closer.closeCalls)
	out := logBuf.String()
	assert.Contains(t, out, "failed to close resource")
	assert.Contains(t, out, "registry client")
	assert.Contains(t, out, "connection reset")
	assert.Contains(t, out, "level=WARN")
}

func TestCloseWithLog_NilLogger(t *testing.T) {
	closer := &mockCloser{closeErr: errors.New("test error")}

	require.NotPanics(t, func() {
		CloseWithLog(closer, nil, "edge feed")
	})
	assert.Equal(t, 1, closer.closeCalls)
}

func TestCloseWithLog_DeferredResources(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	feedCloser := &mockCloser{}
	registryCloser := &mockCloser{closeErr: errors.New("lease revoked")}

	func() {
		defer CloseWithLog(registryCloser, logger, "registry client")
		defer CloseWithLog(feedCloser, logger, "edge feed")
	}()

	assert.Equal(t, 1, feedCloser.closeCalls)
	assert.Equal(t, 1, registryCloser.closeCalls)

	out := logBuf.String()
	assert.Contains(t, out, "registry client")
	assert.Contains(t, out, "lease revoked")
	assert.NotContains(t, out, "edge feed")
}

func TestCloseWithLog_RealIOCloser(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	r, w := io.Pipe()
	_ = w.Close()
	CloseWithLog(r, logger, "pipe reader")

	assert.Empty(t, logBuf.String())
}
