package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

var ErrInvalidSlot = errors.New("invalid slot")
var ErrAlreadyAssigned = errors.New("slot already assigned")
var ErrInvalidSecret = errors.New("invalid secret")
var ErrUnsupportedCommand = errors.New("unsupported command")

const (
	// NumSlots is the number of player slots in every session.
	NumSlots = 2

	DefaultName   = "Player"
	MaxNameLength = 32
)

type Slot struct {
	Index         int
	Name          string
	LastHeartbeat time.Time
	Assigned      bool

	// Only the digest of the secret is kept; see secret.go.
	digest digest
}

// State is the slot table of one session. It is a value type: Apply never
// mutates the state it is given.
type State struct {
	Slots [NumSlots]Slot
}

type CommandType string

const (
	CmdAssign    CommandType = "Assign"
	CmdReassign  CommandType = "Reassign"
	CmdUnassign  CommandType = "Unassign"
	CmdHeartbeat CommandType = "Heartbeat"
)

type Command struct {
	Type   CommandType
	Slot   int
	Name   string // CmdAssign
	Secret string // CmdReassign, CmdUnassign, CmdHeartbeat
	At     time.Time
}

type EventType string

const (
	EvtSlotAssigned   EventType = "SlotAssigned"
	EvtSlotReassigned EventType = "SlotReassigned"
	EvtSlotUnassigned EventType = "SlotUnassigned"
	EvtHeartbeat      EventType = "Heartbeat"
)

// Event describes the accepted command. Secret is only set for
// EvtSlotAssigned and EvtSlotReassigned, so the caller can hand it back.
type Event struct {
	Type   EventType
	Slot   int
	Name   string
	Secret string
}

func NewEmptyState() State {
	var s State
	for i := range s.Slots {
		s.Slots[i] = Slot{Index: i}
	}
	return s
}

func Apply(s State, cmd Command) (Event, State, error) {
	if cmd.Slot < 0 || cmd.Slot >= NumSlots {
		return Event{}, s, ErrInvalidSlot
	}

	newState := s
	slot := &newState.Slots[cmd.Slot]

	switch cmd.Type {
	case CmdAssign:
		if slot.Assigned {
			return Event{}, s, ErrAlreadyAssigned
		}

		secret, err := newSecret()
		if err != nil {
			return Event{}, s, fmt.Errorf("generate secret: %w", err)
		}

		name := NormalizeName(cmd.Name)
		*slot = Slot{
			Index:         cmd.Slot,
			Name:          name,
			LastHeartbeat: cmd.At,
			Assigned:      true,
			digest:        digestOf(secret),
		}
		return Event{Type: EvtSlotAssigned, Slot: cmd.Slot, Name: name, Secret: secret}, newState, nil

	case CmdReassign:
		if err := authorize(*slot, cmd.Secret); err != nil {
			return Event{}, s, err
		}

		// The secret does not rotate on reassignment.
		slot.LastHeartbeat = cmd.At
		return Event{Type: EvtSlotReassigned, Slot: cmd.Slot, Name: slot.Name, Secret: cmd.Secret}, newState, nil

	case CmdUnassign:
		if err := authorize(*slot, cmd.Secret); err != nil {
			return Event{}, s, err
		}

		name := slot.Name
		*slot = Slot{Index: cmd.Slot}
		return Event{Type: EvtSlotUnassigned, Slot: cmd.Slot, Name: name}, newState, nil

	case CmdHeartbeat:
		if err := authorize(*slot, cmd.Secret); err != nil {
			return Event{}, s, err
		}

		slot.LastHeartbeat = cmd.At
		return Event{Type: EvtHeartbeat, Slot: cmd.Slot, Name: slot.Name}, newState, nil

	default:
		return Event{}, s, ErrUnsupportedCommand
	}
}

func authorize(slot Slot, secret string) error {
	if !slot.Assigned {
		return ErrInvalidSlot
	}
	if !slot.digest.matches(secret) {
		return ErrInvalidSecret
	}
	return nil
}

// NormalizeName trims and NFC-normalises a player name, falls back to
// DefaultName when nothing is left and caps it at MaxNameLength runes.
func NormalizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return DefaultName
	}
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}

	runes := []rune(name)
	return strings.TrimSpace(string(runes[:MaxNameLength]))
}

// View returns the public view of a slot. Secrets are never part of it.
func (sl Slot) View() types.SlotView {
	v := types.SlotView{
		SlotIndex:  sl.Index,
		IsAssigned: sl.Assigned,
	}
	if sl.Assigned {
		name := sl.Name
		v.Name = &name
	}
	if !sl.LastHeartbeat.IsZero() {
		hb := sl.LastHeartbeat.UTC()
		v.LastHeartbeat = &hb
	}
	return v
}

func (s State) Views() []types.SlotView {
	views := make([]types.SlotView, 0, len(s.Slots))
	for _, sl := range s.Slots {
		views = append(views, sl.View())
	}
	return views
}

func (s State) AssignedCount() int {
	n := 0
	for _, sl := range s.Slots {
		if sl.Assigned {
			n++
		}
	}
	return n
}
