package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultHistorySize bounds the in-memory ring buffer of recent events.
const DefaultHistorySize = 10_000

// Handler receives events synchronously in the emitting goroutine. Handlers
// that need to do heavy work must enqueue to their own worker.
type Handler func(Event)

// SinkErrorFunc is invoked when an append to a JSONL sink fails. The failing
// conversation id is empty for the experiment-level log.
type SinkErrorFunc func(conversationID string, err error)

type subscription struct {
	id int
	fn Handler
}

// Bus fans typed events out to subscribers and to per-conversation JSONL
// sinks under a single experiment directory. Emission assigns the next
// sequence per conversation and appends to the sink before any subscriber
// observes the event, so replaying a log matches live delivery.
type Bus struct {
	mu          sync.Mutex
	dir         string
	subs        map[Type][]subscription
	nextSubID   int
	seqs        map[string]int64
	sinks       map[string]*sink
	history     []Event
	historyHead int
	historyLen  int
	started     bool
	onSinkError SinkErrorFunc
}

// NewBus creates a bus writing JSONL sinks into dir.
func NewBus(dir string) *Bus {
	return &Bus{
		dir:     dir,
		subs:    make(map[Type][]subscription),
		seqs:    make(map[string]int64),
		sinks:   make(map[string]*sink),
		history: make([]Event, DefaultHistorySize),
	}
}

// OnSinkError registers the scheduler's callback for sink write failures.
func (b *Bus) OnSinkError(fn SinkErrorFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSinkError = fn
}

// Start makes the bus accept events. Emit before Start or after Stop is an
// error.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
}

// Stop flushes and closes every open sink. Events emitted after Stop are
// dropped with an error.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	for id, s := range b.sinks {
		if err := s.close(); err != nil {
			log.Warn().Err(err).Str("conversation_id", id).Msg("event_sink_close_failed")
		}
		delete(b.sinks, id)
	}
}

// Subscribe registers a handler for one event type, or for every event when
// t is Wildcard. It returns a token for Unsubscribe. Handlers for a type run
// in registration order, then wildcard handlers in registration order.
func (b *Bus) Subscribe(t Type, fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	b.subs[t] = append(b.subs[t], subscription{id: b.nextSubID, fn: fn})
	return b.nextSubID
}

// Unsubscribe removes a handler previously registered for t.
func (b *Bus) Unsubscribe(t Type, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit stamps the event with the next per-conversation sequence and a UTC
// timestamp, appends it to the matching JSONL sink, then delivers it to
// subscribers. Safe to call from any goroutine. The returned error reports a
// sink write failure; subscribers still observe the event, and an Error event
// is delivered to them (but never written to the failing file).
func (b *Bus) Emit(ev Event) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return fmt.Errorf("event bus not started")
	}

	m := ev.meta()
	m.Type = ev.EventType()
	m.Timestamp = time.Now().UTC()
	key := m.ConversationID
	b.seqs[key]++
	m.Sequence = b.seqs[key]

	var sinkErr error
	line, err := Marshal(ev)
	if err != nil {
		sinkErr = fmt.Errorf("marshal %s event: %w", m.Type, err)
	} else if s, err := b.sinkFor(key); err != nil {
		sinkErr = err
	} else if err := s.writeLine(line); err != nil {
		sinkErr = err
	}

	b.pushHistory(ev)
	handlers := b.handlersFor(ev.EventType())
	onSinkError := b.onSinkError
	b.mu.Unlock()

	b.deliver(ev, handlers)

	if sinkErr != nil {
		log.Error().Err(sinkErr).Str("conversation_id", key).Msg("event_sink_write_failed")
		errEv := &Error{
			Meta:    Meta{ConversationID: key, ExperimentID: m.ExperimentID},
			Scope:   "sink",
			Message: sinkErr.Error(),
		}
		b.deliverUnpersisted(errEv)
		if onSinkError != nil {
			onSinkError(key, sinkErr)
		}
	}
	return sinkErr
}

// CloseConversationLog flushes and closes the sink for one conversation.
// Later events for the same conversation would reopen it; the conductor only
// closes after ConversationEnd.
func (b *Bus) CloseConversationLog(conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sinks[conversationID]
	if !ok {
		return nil
	}
	delete(b.sinks, conversationID)
	return s.close()
}

// History returns up to limit most recent events, oldest first. limit <= 0
// returns the full retained window.
func (b *Bus) History(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.historyLen
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	start := b.historyLen - n
	for i := start; i < b.historyLen; i++ {
		out = append(out, b.history[(b.historyHead+i)%len(b.history)])
	}
	return out
}

// ClearHistory drops the retained ring buffer contents.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyHead = 0
	b.historyLen = 0
}

func (b *Bus) sinkFor(conversationID string) (*sink, error) {
	if s, ok := b.sinks[conversationID]; ok {
		return s, nil
	}
	name := ExperimentLogName
	if conversationID != "" {
		name = ConversationLogName(conversationID)
	}
	s, err := openSink(b.dir, name)
	if err != nil {
		return nil, err
	}
	b.sinks[conversationID] = s
	return s, nil
}

func (b *Bus) pushHistory(ev Event) {
	if b.historyLen < len(b.history) {
		b.history[(b.historyHead+b.historyLen)%len(b.history)] = ev
		b.historyLen++
		return
	}
	b.history[b.historyHead] = ev
	b.historyHead = (b.historyHead + 1) % len(b.history)
}

func (b *Bus) handlersFor(t Type) []subscription {
	specific := b.subs[t]
	wild := b.subs[Wildcard]
	out := make([]subscription, 0, len(specific)+len(wild))
	out = append(out, specific...)
	out = append(out, wild...)
	return out
}

func (b *Bus) deliver(ev Event, handlers []subscription) {
	for _, s := range handlers {
		b.invoke(ev, s.fn)
	}
}

func (b *Bus) deliverUnpersisted(ev Event) {
	b.mu.Lock()
	m := ev.meta()
	m.Type = ev.EventType()
	m.Timestamp = time.Now().UTC()
	handlers := b.handlersFor(ev.EventType())
	b.mu.Unlock()
	b.deliver(ev, handlers)
}

// invoke shields the bus from a misbehaving subscriber: a panic is logged and
// the remaining handlers still run.
func (b *Bus) invoke(ev Event, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(ev.EventType())).
				Msg("event_handler_panic")
		}
	}()
	fn(ev)
}
