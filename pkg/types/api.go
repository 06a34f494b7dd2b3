package types

import "github.com/google/uuid"

// Request/response bodies of the assignment HTTP surface.

type AssignRequest struct {
	Name string `json:"name"`
}

type SecretRequest struct {
	Secret string `json:"secret"`
}

type AssignmentResult struct {
	SlotIndex int    `json:"slot_index"`
	Secret    string `json:"secret"`
}

type SessionCreated struct {
	SessionID uuid.UUID `json:"session_id"`
}

type SessionView struct {
	SessionID uuid.UUID  `json:"session_id"`
	Slots     []SlotView `json:"slots"`
	Watchers  int        `json:"watchers"`
}

type ErrorCode string

const (
	CodeInvalidSlot     ErrorCode = "invalid_slot"
	CodeAlreadyAssigned ErrorCode = "already_assigned"
	CodeInvalidSecret   ErrorCode = "invalid_secret"
	CodeInvalidSession  ErrorCode = "invalid_session"
	CodeBadRequest      ErrorCode = "bad_request"
	CodeInternal        ErrorCode = "internal"
)

type ErrorResponse struct {
	Error   ErrorCode `json:"error"`
	Message string    `json:"message,omitempty"`
}
