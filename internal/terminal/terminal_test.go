package terminal

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outputSink struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (o *outputSink) write(data []byte) {
	o.mu.Lock()
	o.buf.Write(data)
	o.mu.Unlock()
}

func (o *outputSink) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func TestStartEchoAndClose(t *testing.T) {
	sink := &outputSink{}
	exited := make(chan struct{})

	p, err := Start("alice", t.TempDir(), DefaultConfig(), sink.write, func() { close(exited) })
	require.NoError(t, err)

	_, err = p.Write([]byte("echo terminal-roundtrip\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return strings.Contains(sink.String(), "terminal-roundtrip")
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, p.Close())
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}
	assert.False(t, p.Alive())
}

func TestStartsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	sink := &outputSink{}

	p, err := Start("alice", dir, DefaultConfig(), sink.write, nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Write([]byte("pwd\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return strings.Contains(sink.String(), dir)
	}, 5*time.Second, 50*time.Millisecond)
}

func TestResize(t *testing.T) {
	sink := &outputSink{}
	p, err := Start("alice", t.TempDir(), DefaultConfig(), sink.write, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.NoError(t, p.Resize(120, 40))

	_, err = p.Write([]byte("stty size\n"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return strings.Contains(sink.String(), "40 120")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWriteAfterCloseFails(t *testing.T) {
	p, err := Start("alice", t.TempDir(), DefaultConfig(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Write([]byte("x"))
	assert.Error(t, err)
	assert.Error(t, p.Resize(80, 24))

	// Close is idempotent.
	assert.NoError(t, p.Close())
}
