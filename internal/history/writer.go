package history

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"modbus-pump-control/internal/control"
)

// Writer stores loop events asynchronously through a bounded queue.
type Writer struct {
	store *Store
	q     chan control.Event
	log   *log.Logger

	dropped atomic.Uint64
	failed  atomic.Uint64
	wg      sync.WaitGroup
	once    sync.Once
}

// NewWriter starts the background insert goroutine.
func NewWriter(store *Store, queueSize int, logger *log.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = log.Default()
	}
	w := &Writer{store: store, q: make(chan control.Event, queueSize), log: logger}
	w.wg.Add(1)
	go w.run()
	return w
}

// Observe queues e. A full queue drops the event and counts it.
func (w *Writer) Observe(e control.Event) {
	select {
	case w.q <- e:
	default:
		if w.dropped.Add(1) == 1 {
			w.log.Printf("history: queue full (%d), dropping events", cap(w.q))
		}
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for e := range w.q {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.store.Save(ctx, e); err != nil {
			w.failed.Add(1)
			w.log.Printf("history: %v", err)
		}
		cancel()
	}
}

// Dropped returns the number of events lost to a full queue.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Failed returns the number of events the database rejected.
func (w *Writer) Failed() uint64 { return w.failed.Load() }

// Close flushes the queue. The store stays open.
func (w *Writer) Close() {
	w.once.Do(func() {
		close(w.q)
		w.wg.Wait()
	})
}
