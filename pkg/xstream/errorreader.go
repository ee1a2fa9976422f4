package xstream

import (
	"context"
	"io"
)

// errorReaderTask is the background goroutine, started only for outbound
// streams, that drains the error substream to EOF and publishes the result
// into the errorDataStore. Exactly one task exists per XStream, and every
// clone shares it; it is torn down via cancel, stored next to the resource
// it drives (the errorRead half), so closing the resource first aborts the
// task before dropping shared state — no task outlives its resource.
type errorReaderTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startErrorReaderTask launches the task and returns a handle used to abort
// it. reader is the error substream's read half; store is where the result
// is published.
func startErrorReaderTask(reader io.Reader, store *errorDataStore) *errorReaderTask {
	ctx, cancel := context.WithCancel(context.Background())
	task := &errorReaderTask{cancel: cancel, done: make(chan struct{})}
	go task.run(ctx, reader, store)
	return task
}

func (t *errorReaderTask) run(ctx context.Context, reader io.Reader, store *errorDataStore) {
	defer close(t.done)

	type outcome struct {
		data []byte
		err  error
	}
	results := make(chan outcome, 1)
	go func() {
		data, err := io.ReadAll(reader)
		results <- outcome{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		// Cancellation: mark the store closed so any blocked error_read
		// callers unblock with ErrNoErrorData. The ReadAll goroutine above is
		// left to finish on its own once the caller closes the underlying
		// substream; it has no further effect once the store is closed.
		store.closeEmpty()
		return
	case result := <-results:
		if len(result.data) > 0 {
			// Bytes read successfully: publish regardless of whether the
			// trailing error was a clean io.EOF or some other I/O failure —
			// once the peer has sent application error bytes, that's the
			// answer, and any I/O wrinkle reading the remainder of an
			// already-closed substream doesn't change that.
			store.publish(result.data)
			return
		}
		// Clean EOF or an I/O error with zero bytes: both are treated as "no
		// application error arrived" — the main channel's own failure path
		// takes over from here.
		store.closeEmpty()
	}
}

// abort cancels the task and waits for it to observe cancellation and mark
// the store closed.
func (t *errorReaderTask) abort() {
	t.cancel()
	<-t.done
}
