package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	SchemaVersion        = 1
	MinCompatibleVersion = 1
)

var ErrMalformed = errors.New("malformed envelope")
var ErrSchemaIncompatible = errors.New("incompatible schema version")
var ErrVersionMismatch = errors.New("envelope stateVersion does not match state")
var ErrMissingActionID = errors.New("action envelope without actionId")

type Type string

const (
	ActionStartGame       Type = "action.startGame"
	ActionChooseAuction   Type = "action.chooseAuction"
	ActionPlaceBid        Type = "action.placeBid"
	ActionPassBid         Type = "action.passBid"
	ActionHostAward       Type = "action.hostAward"
	ActionHostBuyback     Type = "action.hostBuyback"
	ActionPayBuyback      Type = "action.payBuyback"
	ActionChooseCowTrade  Type = "action.chooseCowTrade"
	ActionSelectCowTarget Type = "action.selectCowTarget"
	ActionSelectCowAnimal Type = "action.selectCowAnimal"
	ActionCancelCowTrade  Type = "action.cancelCowTrade"
	ActionCommitCowTrade  Type = "action.commitCowTrade"
	ActionRevealCowTrade  Type = "action.revealCowTrade"

	StateUpdateType Type = "state.update"

	SystemJoin         Type = "system.join"
	SystemLeave        Type = "system.leave"
	SystemHostChanged  Type = "system.hostChanged"
	SystemRequestState Type = "system.requestState"
)

// Class is the message family, taken from the type prefix.
type Class int

const (
	ClassUnknown Class = iota
	ClassAction
	ClassState
	ClassSystem
)

func (t Type) Class() Class {
	switch {
	case strings.HasPrefix(string(t), "action."):
		return ClassAction
	case strings.HasPrefix(string(t), "state."):
		return ClassState
	case strings.HasPrefix(string(t), "system."):
		return ClassSystem
	default:
		return ClassUnknown
	}
}

func (t Type) IsAction() bool { return t.Class() == ClassAction }

const (
	TopicActions = "actions"
	TopicState   = "state"
	TopicSystem  = "system"
)

// TopicFor picks the topic a message of type t travels on.
func TopicFor(t Type) string {
	switch t.Class() {
	case ClassAction:
		return TopicActions
	case ClassState:
		return TopicState
	default:
		return TopicSystem
	}
}

// Topics lists every topic a replica subscribes to.
var Topics = []string{TopicActions, TopicState, TopicSystem}

func ChannelName(roomID string) string {
	return "game-" + roomID
}

// Envelope is the wire wrapper for every message. ActionID is set only on
// action types and StateVersion only on state.update.
type Envelope struct {
	Type          Type            `json:"type"`
	RoomID        string          `json:"roomId"`
	SenderID      string          `json:"senderId"`
	ActionID      *string         `json:"actionId,omitempty"`
	StateVersion  *uint64         `json:"stateVersion,omitempty"`
	TS            int64           `json:"ts"`
	Payload       json.RawMessage `json:"payload"`
	SchemaVersion int             `json:"schemaVersion"`
}

type Options struct {
	ActionID     string
	StateVersion uint64
	// TS overrides the timestamp; zero means now.
	TS int64
}

var now = func() int64 { return time.Now().UnixMilli() }

// MakeEnvelope stamps ts and schemaVersion and attaches actionId or
// stateVersion only where the type calls for them.
func MakeEnvelope(t Type, roomID, senderID string, payload any, opts Options) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env := Envelope{
		Type:          t,
		RoomID:        roomID,
		SenderID:      senderID,
		TS:            opts.TS,
		Payload:       raw,
		SchemaVersion: SchemaVersion,
	}
	if env.TS == 0 {
		env.TS = now()
	}
	switch t.Class() {
	case ClassAction:
		if opts.ActionID == "" {
			return Envelope{}, ErrMissingActionID
		}
		id := opts.ActionID
		env.ActionID = &id
	case ClassState:
		v := opts.StateVersion
		env.StateVersion = &v
	}
	return env, nil
}

// MakeStateUpdate wraps a snapshot, mirroring its version on the envelope.
func MakeStateUpdate(roomID, senderID string, update StateUpdate) (Envelope, error) {
	return MakeEnvelope(StateUpdateType, roomID, senderID, update, Options{StateVersion: update.State.StateVersion})
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses and validates one envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := Validate(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks the envelope shape and the schema gate.
func Validate(env Envelope) error {
	switch {
	case env.Type.Class() == ClassUnknown:
		return fmt.Errorf("%w: type %q", ErrMalformed, env.Type)
	case env.RoomID == "":
		return fmt.Errorf("%w: missing roomId", ErrMalformed)
	case env.SenderID == "":
		return fmt.Errorf("%w: missing senderId", ErrMalformed)
	case env.TS <= 0:
		return fmt.Errorf("%w: missing ts", ErrMalformed)
	case len(env.Payload) == 0:
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if !IsSchemaCompatible(env.SchemaVersion) {
		return fmt.Errorf("%w: %d", ErrSchemaIncompatible, env.SchemaVersion)
	}

	switch env.Type.Class() {
	case ClassAction:
		if env.ActionID == nil || *env.ActionID == "" {
			return ErrMissingActionID
		}
	case ClassState:
		if env.StateVersion == nil {
			return fmt.Errorf("%w: missing stateVersion", ErrMalformed)
		}
		var su StateUpdate
		if err := json.Unmarshal(env.Payload, &su); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if su.State.StateVersion != *env.StateVersion {
			return fmt.Errorf("%w: envelope %d, state %d", ErrVersionMismatch, *env.StateVersion, su.State.StateVersion)
		}
	}
	return nil
}

func IsSchemaCompatible(v int) bool {
	return v >= MinCompatibleVersion && v <= SchemaVersion
}

// DecodePayload unmarshals the payload into out.
func DecodePayload(env Envelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return nil
}

// DedupKey scopes an action id to its room.
func DedupKey(env Envelope) string {
	if env.ActionID == nil {
		return ""
	}
	return env.RoomID + ":" + *env.ActionID
}
