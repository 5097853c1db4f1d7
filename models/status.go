package models

// CollectionStatus is the lifecycle state of the most recent collection
// cycle, read by the UI layer.
type CollectionStatus int

const (
	StatusIdle CollectionStatus = iota
	StatusStarting
	StatusCollecting
	StatusSuccess
	StatusFailed
)

// String returns the lowercase status name used in logs and CSV output.
func (s CollectionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStarting:
		return "starting"
	case StatusCollecting:
		return "collecting"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Progress reports how many devices of the current cycle have settled.
type Progress struct {
	Completed int
	Total     int
}
