package types

import "time"

// SlotView is the public view of one slot, as pushed to every presence
// client. It never carries the slot secret.
type SlotView struct {
	SlotIndex     int        `json:"slot_index"`
	Name          *string    `json:"name,omitempty"`
	IsAssigned    bool       `json:"is_assigned"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}
