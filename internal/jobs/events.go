package jobs

import (
	"time"

	"boqmatch/internal/store"
)

// ProgressEvent is published after every wave and once more when a job
// reaches a terminal state.
type ProgressEvent struct {
	JobID     string       `json:"job_id"`
	Status    store.Status `json:"status"`
	Processed int          `json:"processed"`
	Matched   int          `json:"matched"`
	Total     int          `json:"total"`
	Progress  float64      `json:"progress"`
	Wave      int          `json:"wave"`
	WaveSize  int          `json:"wave_size"`
	Error     string       `json:"error,omitempty"`
	At        time.Time    `json:"at"`
}

// Terminal reports whether the event closes the job's stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status.IsTerminal()
}

const subscriberBuffer = 32

// Subscribe returns a channel of progress events for jobID and a function
// that releases it. The channel is closed after the terminal event. Slow
// subscribers miss intermediate events rather than stalling the job.
func (c *Coordinator) Subscribe(jobID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, subscriberBuffer)
	c.subMu.Lock()
	if c.subs[jobID] == nil {
		c.subs[jobID] = make(map[chan ProgressEvent]struct{})
	}
	c.subs[jobID][ch] = struct{}{}
	c.subMu.Unlock()

	release := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if set, ok := c.subs[jobID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(c.subs, jobID)
			}
		}
	}
	return ch, release
}

func (c *Coordinator) publish(evt ProgressEvent) {
	if evt.At.IsZero() {
		evt.At = c.now()
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	set := c.subs[evt.JobID]
	for ch := range set {
		select {
		case ch <- evt:
		default:
		}
	}
	if evt.Terminal() {
		for ch := range set {
			close(ch)
		}
		delete(c.subs, evt.JobID)
	}
}

func percent(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(processed) * 100 / float64(total)
}
