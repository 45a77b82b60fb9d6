package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"sentrycam/tracking"
)

// TrackingEvent is the audit record of one tracked object's engagement,
// opened on its first trigger and closed when the engine stops.
type TrackingEvent struct {
	ID        string
	ObjectID  int
	ClassName string
	Direction tracking.Direction
	StartedAt time.Time
	EndedAt   time.Time // zero while the event is open
	Zones     []string  // zone labels in visit order, deduped consecutively
	Actions   []string  // PTZ action labels in issue order
	Triggers  int
}

// eventRecorder owns the active and completed event sets. Events stay open
// across identity eviction: a subject that left the scene is still part of
// the same engagement if the engine never stopped.
type eventRecorder struct {
	mu        sync.Mutex
	active    map[int]*TrackingEvent
	completed []TrackingEvent
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{active: make(map[int]*TrackingEvent)}
}

// record opens an event for the object if needed and appends this trigger.
// An empty zone is not recorded; consecutive duplicates collapse.
func (r *eventRecorder) record(objectID int, class string, dir tracking.Direction, zone, action string, now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.active[objectID]
	if !ok {
		ev = &TrackingEvent{
			ID:        uuid.NewString(),
			ObjectID:  objectID,
			ClassName: class,
			StartedAt: now,
		}
		r.active[objectID] = ev
	}
	ev.Direction = dir
	ev.Triggers++
	if zone != "" && (len(ev.Zones) == 0 || ev.Zones[len(ev.Zones)-1] != zone) {
		ev.Zones = append(ev.Zones, zone)
	}
	if action != "" {
		ev.Actions = append(ev.Actions, action)
	}
	return ev.ID
}

// closeAll finalizes every open event and returns how many were closed.
func (r *eventRecorder) closeAll(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.active)
	for id, ev := range r.active {
		ev.EndedAt = now
		r.completed = append(r.completed, *ev)
		delete(r.active, id)
	}
	return n
}

// activeEvents returns copies of the open events.
func (r *eventRecorder) activeEvents() []TrackingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TrackingEvent, 0, len(r.active))
	for _, ev := range r.active {
		out = append(out, *ev)
	}
	return out
}

// completedEvents returns copies of the closed events.
func (r *eventRecorder) completedEvents() []TrackingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TrackingEvent(nil), r.completed...)
}

func (r *eventRecorder) counts() (active, completed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active), len(r.completed)
}
