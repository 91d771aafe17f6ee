package intercept

import (
	"errors"
	"io"
	"iter"
	"sync"
)

const chunkSize = 32 * 1024

// ObservedBody wraps a streaming response body. Every byte handed to the
// caller, through Read, WriteTo or Chunks, is also fed to the tracker, after
// the caller's buffer has been filled.
type ObservedBody struct {
	rc      io.ReadCloser
	tracker Tracker
	turn    int
	once    sync.Once
}

func newObservedBody(rc io.ReadCloser, tracker Tracker, turn int) *ObservedBody {
	return &ObservedBody{rc: rc, tracker: tracker, turn: turn}
}

// Read implements io.Reader.
func (b *ObservedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.tracker.Feed(b.turn, p[:n])
	}
	if errors.Is(err, io.EOF) {
		b.end(true)
	}
	return n, err
}

// WriteTo implements io.WriterTo. When the underlying body has its own
// WriteTo it is used, so the copy strategy is the same as without the wrapper.
func (b *ObservedBody) WriteTo(w io.Writer) (int64, error) {
	tw := &teeWriter{w: w, body: b}

	var n int64
	var err error
	if wt, ok := b.rc.(io.WriterTo); ok {
		n, err = wt.WriteTo(tw)
	} else {
		n, err = io.CopyBuffer(tw, struct{ io.Reader }{b.rc}, make([]byte, chunkSize))
	}
	if err == nil {
		b.end(true)
	}
	return n, err
}

// Chunks yields the body as a sequence of chunks until EOF. A read error is
// yielded once and ends the sequence. The yielded slice is only valid until
// the next iteration.
func (b *ObservedBody) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, chunkSize)
		for {
			n, err := b.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Close closes the underlying body. A stream closed before EOF is
// finalized with whatever it has accumulated.
func (b *ObservedBody) Close() error {
	err := b.rc.Close()
	b.end(false)
	return err
}

func (b *ObservedBody) end(natural bool) {
	b.once.Do(func() {
		if natural {
			b.tracker.Complete(b.turn)
		} else {
			b.tracker.Finalize(b.turn)
		}
	})
}

type teeWriter struct {
	w    io.Writer
	body *ObservedBody
}

func (t *teeWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.body.tracker.Feed(t.body.turn, p[:n])
	}
	return n, err
}
