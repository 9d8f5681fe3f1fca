package mqtt

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"modbus-pump-control/internal/control"
	"modbus-pump-control/internal/utils"
)

// Observer forwards loop events to a Publisher from its own goroutine.
// Events whose outcome matches the last published one are held back until
// the heartbeat interval has passed.
type Observer struct {
	pub   Publisher
	dedup *utils.DedupCache
	log   *log.Logger

	queue   chan []byte
	dropped atomic.Uint64
	wg      sync.WaitGroup
	once    sync.Once
}

// NewObserver starts the publishing goroutine. Close stops it.
func NewObserver(pub Publisher, heartbeat time.Duration, queueSize int, logger *log.Logger) *Observer {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	o := &Observer{
		pub:   pub,
		dedup: utils.NewDedupCache(heartbeat, nil),
		log:   logger,
		queue: make(chan []byte, queueSize),
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// Observe never blocks: a full queue drops the event.
func (o *Observer) Observe(e control.Event) {
	if !o.dedup.Fresh("event", dedupKey(e)) {
		return
	}
	payload, err := FormatPayload(e)
	if err != nil {
		o.log.Printf("mqtt: format payload: %v", err)
		return
	}
	select {
	case o.queue <- payload:
	default:
		if o.dropped.Add(1) == 1 {
			o.log.Printf("mqtt: queue full (%d), dropping events", cap(o.queue))
		}
		// make sure the outcome is sent once the queue drains
		o.dedup.Forget("event")
	}
}

// Dropped returns the number of events lost to a full queue.
func (o *Observer) Dropped() uint64 { return o.dropped.Load() }

func (o *Observer) run() {
	defer o.wg.Done()
	for payload := range o.queue {
		if err := o.pub.Publish(payload); err != nil {
			o.log.Printf("mqtt: publish error: %v", err)
		}
	}
}

// Close drains the queue and waits for the publishing goroutine.
func (o *Observer) Close() {
	o.once.Do(func() {
		close(o.queue)
		o.wg.Wait()
	})
}

func dedupKey(e control.Event) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%t|%d|%s",
		e.State, e.Action, e.Tank, e.Command, e.Pump, e.Health.Connected, e.Health.ConsecutiveErrors, e.ErrKind)
}
