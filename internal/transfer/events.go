package transfer

// Status is the lifecycle state of a Transfer. The persisted copy in
// TransferMeta is advisory; the in-memory value is authoritative while a
// process owns the transfer.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusPreparing   Status = "preparing"
	StatusPrepared    Status = "prepared"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusResuming    Status = "resuming"
	StatusAssembling  Status = "assembling"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusError       Status = "error"
)

// Terminal reports whether no further work can happen without a fresh
// Prepare. Error is deliberately not terminal: it resumes like paused.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Event is the closed set of notifications a Transfer emits through its
// Notify callback. Consumers switch on the concrete type; the marker
// method keeps the set closed so a type switch can be exhaustive.
type Event interface {
	isEvent()
}

// StartEvent is emitted once per Start/Resume invocation, after the
// chunk plan is in place.
type StartEvent struct {
	TotalBytes int64
	FileName   string
}

// ProgressEvent reports aggregate received bytes at a fixed cadence.
// Percent is 0 when the total size is unknown.
type ProgressEvent struct {
	ReceivedBytes int64
	TotalBytes    int64
	Percent       float64
}

// SpeedEvent carries a rolling-window throughput estimate.
type SpeedEvent struct {
	BytesPerSec float64
}

// StatusEvent marks a lifecycle transition (paused, resuming, assembling,
// cancelled, ...).
type StatusEvent struct {
	Status Status
}

// ErrorEvent carries a transfer-level failure together with a progress
// snapshot so a consumer can render a useful message.
type ErrorEvent struct {
	Err      error
	FileName string
	Percent  float64
}

// CompleteEvent delivers the reassembled file. The persisted chunk and
// metadata records are already deleted by the time it is emitted.
type CompleteEvent struct {
	Data     []byte
	FileName string
	MimeType string
	Size     int64
}

func (StartEvent) isEvent()    {}
func (ProgressEvent) isEvent() {}
func (SpeedEvent) isEvent()    {}
func (StatusEvent) isEvent()   {}
func (ErrorEvent) isEvent()    {}
func (CompleteEvent) isEvent() {}
