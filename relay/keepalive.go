package relay

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/papercomputeco/relay/pkg/sse"
)

var doneRecord = []byte(sse.DataField + ": " + sse.DoneSentinel + "\n\n")

// keepAliveWriter shares one event stream between the Controller and a
// keep-alive ticker. A failed write cancels the stream context, which also
// unblocks an upstream read bound to it.
type keepAliveWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	enc    *sse.Encoder
	cancel context.CancelFunc

	// sealed is set once the termination record is out or the stream is
	// closed; no comment may follow either.
	sealed bool
	err    error
}

func newKeepAliveWriter(w io.WriteCloser, cancel context.CancelFunc) *keepAliveWriter {
	return &keepAliveWriter{w: w, enc: sse.NewEncoder(w), cancel: cancel}
}

func (k *keepAliveWriter) Write(p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.err != nil {
		return 0, k.err
	}
	n, err := k.w.Write(p)
	if err != nil {
		k.fail(err)
		return n, err
	}
	if bytes.Equal(p, doneRecord) {
		k.sealed = true
	}
	return n, nil
}

func (k *keepAliveWriter) Close() error {
	k.mu.Lock()
	k.sealed = true
	k.mu.Unlock()
	return k.w.Close()
}

// ping writes one keep-alive comment and reports whether the stream is still
// worth pinging.
func (k *keepAliveWriter) ping() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.sealed || k.err != nil {
		return false
	}
	if err := k.enc.WriteKeepAlive(); err != nil {
		k.fail(err)
		return false
	}
	return true
}

func (k *keepAliveWriter) fail(err error) {
	k.err = err
	k.cancel()
}

// run pings every interval until stop is closed or the stream is sealed.
func (k *keepAliveWriter) run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !k.ping() {
				return
			}
		}
	}
}
