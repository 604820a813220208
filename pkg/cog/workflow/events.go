// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"sync"
	"time"

	"github.com/flowmind/flowmind/pkg/cog"
	"github.com/flowmind/flowmind/pkg/logger"
)

// EventType identifies a progress event.
type EventType string

// Progress event types, one per state-machine transition. nodeReady is
// published when a failed attempt re-enters the ready queue for retry.
const (
	EventNodeReady        EventType = "nodeReady"
	EventNodeRunning      EventType = "nodeRunning"
	EventNodeSucceeded    EventType = "nodeSucceeded"
	EventNodeFailed       EventType = "nodeFailed"
	EventNodeSkipped      EventType = "nodeSkipped"
	EventRunStatusChanged EventType = "runStatusChanged"
)

// Event is one progress notification. Delivery is best effort and
// at most once; events for the same node arrive in order.
type Event struct {
	RunID  string    `json:"runId"`
	Type   EventType `json:"type"`
	NodeID string    `json:"nodeId,omitempty"`

	// Attempt is the 1-based attempt number for node events.
	Attempt int `json:"attempt,omitempty"`

	// RunStatus carries the new status on runStatusChanged events.
	RunStatus RunStatus `json:"runStatus,omitempty"`

	ErrorKind    cog.ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber channel. A subscriber that
// falls behind loses events rather than stalling the engine.
const subscriberBuffer = 64

// Bus fans progress events out to subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscriber
}

type subscriber struct {
	runID string
	ch    chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: map[int]subscriber{}}
}

// Subscribe returns a channel of events for one run ID, or for all runs
// when runID is empty. The returned cancel function must be called to
// release the subscription; it closes the channel.
func (b *Bus) Subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = subscriber{runID: runID, ch: ch}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
	return ch, cancel
}

// Publish delivers an event to matching subscribers without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.runID != "" && sub.runID != event.RunID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logger.Debugw("dropping progress event for slow subscriber",
				"run", event.RunID, "type", event.Type)
		}
	}
}
