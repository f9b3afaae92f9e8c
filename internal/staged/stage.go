package staged

import "time"

// Name is one of the closed set of run states.
type Name string

const (
	Idle       Name = "idle"
	Queued     Name = "queued"
	Analyzing  Name = "analyzing"
	Processing Name = "processing"
	Optimizing Name = "optimizing"
	Complete   Name = "complete"
	Error      Name = "error"
)

const (
	MessagePreparing = "Preparing files..."
	MessageComplete  = "Processing complete!"
	MessageCancelled = "Processing cancelled"
)

// Stage is one animated phase of a run.
type Stage struct {
	Name     Name
	Duration time.Duration
	Message  string
}

// DefaultStages is the analyze/process/optimize sequence most tools use.
func DefaultStages() []Stage {
	return []Stage{
		{Name: Analyzing, Duration: 800 * time.Millisecond, Message: "Analyzing file structure..."},
		{Name: Processing, Duration: 1400 * time.Millisecond, Message: "Processing content..."},
		{Name: Optimizing, Duration: 800 * time.Millisecond, Message: "Optimizing output..."},
	}
}

// Snapshot is the observable state of a controller.
type Snapshot struct {
	Stage         Name
	Progress      float64
	StageProgress float64
	Message       string
	Err           error
}

// Active reports whether a run is animating or awaiting its work.
func (s Snapshot) Active() bool {
	switch s.Stage {
	case Idle, Complete, Error:
		return false
	default:
		return true
	}
}
