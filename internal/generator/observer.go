package generator

import "time"

// Phase is the lifecycle step an Event reports on.
type Phase string

const (
	PhaseQueued      Phase = "queued"
	PhaseUploading   Phase = "uploading"
	PhaseSubmitting  Phase = "submitting"
	PhasePolling     Phase = "polling"
	PhaseDownloading Phase = "downloading"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Event is a progress notification for one job. JobIndex is the prompt's
// position in its batch, or -1 for a single Generate call.
type Event struct {
	JobIndex int
	Prompt   string
	Phase    Phase
	// Fraction is phase progress in [0,1]: elapsed/max wait while polling,
	// bytes/total while downloading (0 when the total is unknown).
	Fraction float64
	Bytes    int64
	Total    int64
	Elapsed  time.Duration
	Message  string
}

// Observer receives events from concurrently running jobs, so implementations
// must be safe for concurrent use.
type Observer interface {
	OnProgress(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnProgress(e Event) { f(e) }

// NopObserver drops every event.
type NopObserver struct{}

func (NopObserver) OnProgress(Event) {}
