package server

import (
	"context"
	"sync"
	"time"
)

const (
	// TallyEventVotesRecorded is broadcast after a vote submission commits.
	TallyEventVotesRecorded = "tally-change"
	tallyEventHeartbeat     = "heartbeat"
	tallySourceBackend      = "pollhive-backend"
)

// TallyMessage notifies live-results subscribers that a poll's tally moved.
// Subscribers refetch the aggregated results; the message itself carries
// only which options were voted on.
type TallyMessage struct {
	PollID    string
	EventType string
	OptionIDs []string
	Timestamp time.Time
}

// TallyDispatcher fans tally-change events out to per-poll subscribers.
// Delivery is best effort: a subscriber with a full buffer misses the
// event and catches up on its next refetch.
type TallyDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*tallySubscriber
	nextID      int64
	bufferSize  int
}

type tallySubscriber struct {
	id     int64
	stream chan TallyMessage
}

func NewTallyDispatcher() *TallyDispatcher {
	return &TallyDispatcher{
		subscribers: make(map[string]map[int64]*tallySubscriber),
		bufferSize:  16,
	}
}

func (d *TallyDispatcher) Subscribe(ctx context.Context, pollID string) (<-chan TallyMessage, func()) {
	if pollID == "" {
		ch := make(chan TallyMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &tallySubscriber{
		id:     d.nextSequence(),
		stream: make(chan TallyMessage, d.bufferSize),
	}
	d.registerSubscriber(pollID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(pollID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *TallyDispatcher) Publish(message TallyMessage) {
	if message.PollID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.PollID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*tallySubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *TallyDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *TallyDispatcher) registerSubscriber(pollID string, subscriber *tallySubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[pollID]; !ok {
		d.subscribers[pollID] = make(map[int64]*tallySubscriber)
	}
	d.subscribers[pollID][subscriber.id] = subscriber
}

func (d *TallyDispatcher) unregisterSubscriber(pollID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[pollID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, pollID)
		}
	}
	d.mu.Unlock()
}
