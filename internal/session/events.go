package session

// Event is the closed set of notifications a session emits for
// progress reporting. The unexported marker method keeps the set
// closed: only types in this package satisfy it, so consumers can
// switch over every case exhaustively.
type Event interface {
	isEvent()
}

type baseEvent struct{}

func (baseEvent) isEvent() {}

// Status classifies the outcome of one segment round trip.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusRetry   Status = "retry"
)

// TransferStart is emitted once when a session begins moving segments.
type TransferStart struct {
	baseEvent
	Filename      string
	TotalSegments int
	FileSize      int64
}

// SegmentStatus is emitted after each segment round trip.
type SegmentStatus struct {
	baseEvent
	SeqNum         int
	TotalSegments  int
	Status         Status
	Message        string
	ErrorSimulated bool
}

// TransferComplete is emitted once when a session reaches a terminal
// state, successful or not.
type TransferComplete struct {
	baseEvent
	Filename      string
	TotalSegments int
	Success       bool
	Reason        string
	Stats         Stats
}

// Sink receives session events. Emission is a side effect with no
// bearing on protocol correctness; a nil sink discards everything.
type Sink func(Event)

func emit(sink Sink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}

// MultiSink fans one event stream out to several sinks. Nil entries
// are skipped.
func MultiSink(sinks ...Sink) Sink {
	return func(ev Event) {
		for _, sink := range sinks {
			if sink != nil {
				sink(ev)
			}
		}
	}
}
