package models

import "time"

// ResourceRecord is one device's outcome for one polling cycle. Exactly one
// record is produced per requested device per cycle, whether or not any of
// its individual fetches succeeded.
type ResourceRecord struct {
	DeviceID uint32 `json:"device_id"`
	Host     string `json:"host"`

	// Name is the display name (alias or host) captured at collection time.
	Name string `json:"name,omitempty"`

	// Values maps metric key → reading. A missing key means the metric was
	// not configured or its fetch failed; values are never zero-filled.
	Values map[string]float64 `json:"values,omitempty"`

	// Interfaces holds the derived per-interface bit rates. An interface
	// appears only when a valid prior sample existed and at least one
	// direction's rate was greater than zero.
	Interfaces []InterfaceTraffic `json:"interfaces,omitempty"`

	CollectedAt time.Time `json:"collected_at"`

	// Failed is true only when zero configured metrics could be fetched.
	// Partial success is reported as Failed=false with missing Values keys.
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// Value returns the reading for a metric key and whether it is present.
func (r *ResourceRecord) Value(key string) (float64, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// InterfaceTraffic is the derived bit rate for one interface over the
// interval between the previous and the current poll.
type InterfaceTraffic struct {
	Name   string  `json:"name"`
	InBps  float64 `json:"in_bps"`
	OutBps float64 `json:"out_bps"`
}
