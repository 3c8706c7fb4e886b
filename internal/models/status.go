package models

import "fmt"

// AssetStatus tracks where an asset sits in the upload lifecycle. The value is
// owned by this client: it starts at draft when the local record is created
// and only ever moves forward (draft, uploading, processing, ready), with
// failed reachable from any non-terminal point. A status observed moving
// backwards means the sequence has desynchronised from the backend and must
// not be papered over.
type AssetStatus string

const (
	StatusDraft      AssetStatus = "draft"
	StatusUploading  AssetStatus = "uploading"
	StatusProcessing AssetStatus = "processing"
	StatusReady      AssetStatus = "ready"
	StatusFailed     AssetStatus = "failed"
)

var statusRank = map[AssetStatus]int{
	StatusDraft:      0,
	StatusUploading:  1,
	StatusProcessing: 2,
	StatusReady:      3,
}

// ParseAssetStatus validates a raw status string, typically one arriving in a
// queue event.
func ParseAssetStatus(value string) (AssetStatus, error) {
	status := AssetStatus(value)
	if !status.Known() {
		return "", fmt.Errorf("models: unknown asset status %q", value)
	}
	return status, nil
}

// Known reports whether the value is one of the lifecycle statuses.
func (s AssetStatus) Known() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s AssetStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Before reports whether s is strictly earlier in the forward order than
// other. Failed does not participate in the ordering.
func (s AssetStatus) Before(other AssetStatus) bool {
	a, okA := statusRank[s]
	b, okB := statusRank[other]
	return okA && okB && a < b
}

// CanAdvance reports whether a transition from s to next respects the
// forward-only rule. Repeating the current status is allowed, since queue
// redeliveries produce exact duplicates.
func (s AssetStatus) CanAdvance(next AssetStatus) bool {
	if !s.Known() || !next.Known() {
		return false
	}
	if next == StatusFailed {
		return !s.Terminal()
	}
	if s == StatusFailed {
		return false
	}
	return statusRank[s] <= statusRank[next]
}

func (s AssetStatus) String() string {
	return string(s)
}
