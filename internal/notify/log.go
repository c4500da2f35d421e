package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ticketing-escrow/internal/logger"
	"ticketing-escrow/internal/models"
)

// Sink receives every appended notification. Delivery is best-effort: a sink
// error is logged and never fails the mutation that produced the entry.
type Sink interface {
	Deliver(n models.Notification) error
}

// Log is the ordered, append-only record of domain notifications. Entries are
// appended by Event Instances and the Registry inside their critical
// sections, so the sequence reflects the total order of engine operations.
// External subscribers stream or poll; the engine never reads its own log.
type Log struct {
	mu      sync.Mutex
	entries []models.Notification
	seq     uint64
	sinks   []Sink
	logger  *logger.Logger

	subMu       sync.RWMutex
	subscribers map[int64][]chan models.Notification
}

func NewLog(log *logger.Logger, sinks ...Sink) *Log {
	if log == nil {
		log = logger.NewNop()
	}
	return &Log{
		sinks:       sinks,
		logger:      log,
		subscribers: make(map[int64][]chan models.Notification),
	}
}

// Append assigns the next sequence number and timestamp, records the entry,
// and fans it out. The returned value carries the assigned sequence.
func (l *Log) Append(n models.Notification) models.Notification {
	l.mu.Lock()
	l.seq++
	n.Seq = l.seq
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now()
	}
	l.entries = append(l.entries, n)
	sinks := l.sinks
	l.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Deliver(n); err != nil {
			l.logger.Error("NOTIFY", fmt.Sprintf("Sink delivery failed for %s seq=%d: %v", n.Kind, n.Seq, err))
		}
	}

	l.broadcast(n)
	return n
}

// Entries returns the log for one event, filtered to sequence numbers
// strictly greater than afterSeq.
func (l *Log) Entries(eventID int64, afterSeq uint64) []models.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Notification
	for _, n := range l.entries {
		if n.EventID == eventID && n.Seq > afterSeq {
			out = append(out, n)
		}
	}
	return out
}

// Subscribe returns a channel receiving notifications for one event. The
// subscription is dropped when the context ends. Slow subscribers are skipped
// rather than blocking the engine.
func (l *Log) Subscribe(ctx context.Context, eventID int64) chan models.Notification {
	clientChan := make(chan models.Notification, 16)

	l.subMu.Lock()
	l.subscribers[eventID] = append(l.subscribers[eventID], clientChan)
	l.subMu.Unlock()

	go func() {
		<-ctx.Done()
		l.removeSubscriber(eventID, clientChan)
	}()

	return clientChan
}

func (l *Log) broadcast(n models.Notification) {
	l.subMu.RLock()
	clients := l.subscribers[n.EventID]
	l.subMu.RUnlock()

	for _, clientChan := range clients {
		select {
		case clientChan <- n:
		default:
			// Channel buffer full, skip this client for now
		}
	}
}

func (l *Log) removeSubscriber(eventID int64, clientChan chan models.Notification) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	clients := l.subscribers[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			l.subscribers[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(l.subscribers[eventID]) == 0 {
		delete(l.subscribers, eventID)
	}
}

// SubscriberCount reports how many clients are streaming one event's log.
func (l *Log) SubscriberCount(eventID int64) int {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	return len(l.subscribers[eventID])
}
