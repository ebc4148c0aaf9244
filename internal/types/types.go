package types

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/kuhhandel/internal/dispatcher"
	"github.com/DoyleJ11/kuhhandel/internal/protocol"
	public "github.com/DoyleJ11/kuhhandel/pkg/types"
)

var ErrUnknownAction = errors.New("unknown action")

// ClientMessage is an intent sent by the local UI over HTTP or WebSocket.
// Type is the action name without the "action." prefix, e.g. "placeBid".
type ClientMessage struct {
	Type         string   `json:"type"`
	MoneyCardIDs []string `json:"money_card_ids,omitempty"`
	TargetID     string   `json:"target_id,omitempty"`
	Animal       string   `json:"animal,omitempty"`
}

type ServerMessage struct {
	Type    string           `json:"type"` // "StateSnapshot" | "Error"
	Version uint64           `json:"version,omitempty"`
	Self    string           `json:"self,omitempty"`
	HostID  string           `json:"host_id,omitempty"`
	IsHost  bool             `json:"is_host,omitempty"`
	State   *public.Snapshot `json:"state,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// StateSnapshot wraps a replica view for the UI.
func StateSnapshot(v dispatcher.View) ServerMessage {
	state := v.State
	return ServerMessage{
		Type:    "StateSnapshot",
		Version: v.Version,
		Self:    v.Self,
		HostID:  v.HostID,
		IsHost:  v.IsHost,
		State:   &state,
	}
}

func Error(msg string) ServerMessage {
	return ServerMessage{Type: "Error", Error: msg}
}

// Action turns m into the wire type and payload sent on behalf of playerID.
func (m ClientMessage) Action(playerID string) (protocol.Type, any, error) {
	t := protocol.Type("action." + m.Type)
	switch t {
	case protocol.ActionStartGame, protocol.ActionChooseAuction, protocol.ActionPassBid,
		protocol.ActionHostAward, protocol.ActionHostBuyback, protocol.ActionChooseCowTrade,
		protocol.ActionCancelCowTrade, protocol.ActionRevealCowTrade:
		return t, protocol.PlayerAction{PlayerID: playerID}, nil

	case protocol.ActionPlaceBid, protocol.ActionPayBuyback, protocol.ActionCommitCowTrade:
		ids := m.MoneyCardIDs
		if ids == nil {
			ids = []string{}
		}
		return t, protocol.MoneyAction{PlayerID: playerID, MoneyCardIDs: ids}, nil

	case protocol.ActionSelectCowTarget:
		if m.TargetID == "" {
			return "", nil, fmt.Errorf("%s: target_id is required", m.Type)
		}
		return t, protocol.SelectCowTarget{PlayerID: playerID, TargetID: m.TargetID}, nil

	case protocol.ActionSelectCowAnimal:
		if m.Animal == "" {
			return "", nil, fmt.Errorf("%s: animal is required", m.Type)
		}
		return t, protocol.SelectCowAnimal{PlayerID: playerID, Animal: m.Animal}, nil
	}
	return "", nil, fmt.Errorf("%w %q", ErrUnknownAction, m.Type)
}
