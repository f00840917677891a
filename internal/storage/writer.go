package storage

import (
	"context"
	"sync"
	"time"

	"tribechat/internal/logger"
	"tribechat/internal/models"
)

// MessageWriter batches message inserts behind a buffered queue so the
// processing pipeline never blocks on disk.
type MessageWriter struct {
	writeQ chan messageWriteRequest
	wg     sync.WaitGroup
	stopCh chan struct{}
	log    *logger.Logger

	writeBatchSize int
	writeFlushFreq time.Duration
}

type messageWriteRequest struct {
	msg    *models.Message
	result chan error
}

// NewMessageWriter returns a ready-to-start writer. writeQSize is the
// buffered channel size for incoming writes.
func NewMessageWriter(writeQSize int, log *logger.Logger) *MessageWriter {
	return &MessageWriter{
		writeQ:         make(chan messageWriteRequest, writeQSize),
		stopCh:         make(chan struct{}),
		log:            log.With("component", "message-writer"),
		writeBatchSize: 50,
		writeFlushFreq: 200 * time.Millisecond,
	}
}

// Start launches the background writer. Call Stop() to cleanly shut down.
func (w *MessageWriter) Start(store *Store) {
	w.wg.Add(1)
	go w.writeWorker(store)
}

// Stop stops the worker and blocks until the queue has drained.
func (w *MessageWriter) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// Enqueue queues one message for persistence. It fails fast with
// ErrQueueFull instead of blocking the caller. The returned channel yields
// the write result once and is then closed.
func (w *MessageWriter) Enqueue(msg *models.Message) (<-chan error, error) {
	req := messageWriteRequest{
		msg:    msg,
		result: make(chan error, 1),
	}
	select {
	case w.writeQ <- req:
		return req.result, nil
	default:
		return nil, ErrQueueFull
	}
}

// writeWorker batches writes to limit transactions and contention.
func (w *MessageWriter) writeWorker(store *Store) {
	defer w.wg.Done()
	batch := make([]messageWriteRequest, 0, w.writeBatchSize)
	flushTimer := time.NewTimer(w.writeFlushFreq)
	defer flushTimer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, r := range batch {
			err := store.SaveMessage(context.Background(), r.msg)
			if err != nil {
				w.log.Error("saving queued message failed", "id", r.msg.MessageID, "err", err)
			}
			r.result <- err
			close(r.result)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-w.stopCh:
			// drain queue before exiting
			for {
				select {
				case req := <-w.writeQ:
					batch = append(batch, req)
					if len(batch) >= w.writeBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case req := <-w.writeQ:
			batch = append(batch, req)
			if len(batch) >= w.writeBatchSize {
				flush()
				if !flushTimer.Stop() {
					<-flushTimer.C
				}
				flushTimer.Reset(w.writeFlushFreq)
			}
		case <-flushTimer.C:
			flush()
			flushTimer.Reset(w.writeFlushFreq)
		}
	}
}
