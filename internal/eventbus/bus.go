package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by carebot components.
const (
	DispatchSent      = "dispatch.sent"
	DispatchFailed    = "dispatch.failed"
	ReplyCompleted    = "reply.completed"
	ReplySnoozed      = "reply.snoozed"
	ReplyNoted        = "reply.noted"
	ScheduleInstalled = "schedule.installed"
	ScheduleRemoved   = "schedule.removed"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// DispatchData is attached to dispatch.* events.
type DispatchData struct {
	LogID      string `json:"logId"`
	ScheduleID string `json:"scheduleId,omitempty"`
	SubjectID  string `json:"subjectId"`
	Emergency  bool   `json:"emergency,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReplyData is attached to reply.* events.
type ReplyData struct {
	LogID       string `json:"logId"`
	RecipientID string `json:"recipientId"`
}

// ScheduleData is attached to schedule.* events.
type ScheduleData struct {
	ScheduleID string `json:"scheduleId"`
	Cron       string `json:"cron,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Publisher is the write half of Bus. Nil-safe via Publish below.
type Publisher interface {
	Publish(e Event)
}

// Publish sends e on p when p is non-nil.
func Publish(p Publisher, typ string, data any) {
	if p == nil {
		return
	}
	p.Publish(Event{Type: typ, Data: data})
}

// New returns a simple in-memory fanout bus.
//
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sending under the read lock keeps Unsubscribe's close from racing a send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
