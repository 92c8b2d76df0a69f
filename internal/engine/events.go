package engine

import (
	"sync"
	"time"

	"repograph/internal/store"
)

// Event is one progress observation for a task: the same shape as Status,
// published on every stage transition so consumers don't poll.
type Event struct {
	TaskID         string           `json:"task_id"`
	Status         store.TaskStatus `json:"status"`
	Progress       int              `json:"progress_pct"`
	StageLabel     string           `json:"current_stage_label"`
	FilesTotal     int              `json:"files_total"`
	FilesProcessed int              `json:"files_processed"`
	FailedStage    string           `json:"failed_at_stage,omitempty"`
	Error          string           `json:"error_message,omitempty"`
	KeepAlive      bool             `json:"keep_alive,omitempty"`
	Time           time.Time        `json:"time"`
}

// Terminal reports whether the stream ends after this event.
func (e Event) Terminal() bool {
	return !e.KeepAlive && e.Status.Terminal()
}

// eventBus fans task events out to subscribers. Slow subscribers lose
// events rather than blocking the pipeline; the task record always has the
// authoritative state.
type eventBus struct {
	mu   sync.Mutex
	subs map[string][]chan Event // task id → subscriber channels
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[string][]chan Event)}
}

// subscribe registers a buffered channel for a task's events. The returned
// cancel func must be called exactly once.
func (b *eventBus) subscribe(taskID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[taskID] = append(b.subs[taskID], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			chans := b.subs[taskID]
			for i, c := range chans {
				if c == ch {
					b.subs[taskID] = append(chans[:i], chans[i+1:]...)
					break
				}
			}
			if len(b.subs[taskID]) == 0 {
				delete(b.subs, taskID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// publish delivers an event to current subscribers, dropping on full
// buffers.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[ev.TaskID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// eventFromTask snapshots a task record into an event.
func eventFromTask(t *store.Task) Event {
	return Event{
		TaskID:         t.ID,
		Status:         t.Status,
		Progress:       t.Progress,
		StageLabel:     t.StageLabel,
		FilesTotal:     t.FilesTotal,
		FilesProcessed: t.FilesProcessed,
		FailedStage:    t.FailedStage,
		Error:          t.Error,
		Time:           time.Now().UTC(),
	}
}
