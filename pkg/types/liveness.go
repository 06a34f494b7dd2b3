package types

import "time"

type Liveness string

const (
	LivenessFresh Liveness = "fresh"
	LivenessStale Liveness = "stale"
	LivenessLost  Liveness = "lost"
)

const (
	FreshFor = 10 * time.Second
	StaleFor = 120 * time.Second
)

// Classify derives the presentation state of a slot from the age of its
// last heartbeat. Unassigned slots and slots that never sent one are lost.
func Classify(now time.Time, v SlotView) Liveness {
	if !v.IsAssigned || v.LastHeartbeat == nil {
		return LivenessLost
	}

	age := now.Sub(*v.LastHeartbeat)
	switch {
	case age < FreshFor:
		return LivenessFresh
	case age < StaleFor:
		return LivenessStale
	default:
		return LivenessLost
	}
}
