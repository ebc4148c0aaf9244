package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/kuhhandel/internal/protocol"
)

func TestClientMessage_Action(t *testing.T) {
	cases := []struct {
		msg     ClientMessage
		typ     protocol.Type
		payload any
	}{
		{ClientMessage{Type: "startGame"}, protocol.ActionStartGame, protocol.PlayerAction{PlayerID: "alice"}},
		{
			ClientMessage{Type: "placeBid", MoneyCardIDs: []string{"m1"}},
			protocol.ActionPlaceBid,
			protocol.MoneyAction{PlayerID: "alice", MoneyCardIDs: []string{"m1"}},
		},
		{
			ClientMessage{Type: "commitCowTrade"},
			protocol.ActionCommitCowTrade,
			protocol.MoneyAction{PlayerID: "alice", MoneyCardIDs: []string{}},
		},
		{
			ClientMessage{Type: "selectCowTarget", TargetID: "bob"},
			protocol.ActionSelectCowTarget,
			protocol.SelectCowTarget{PlayerID: "alice", TargetID: "bob"},
		},
		{
			ClientMessage{Type: "selectCowAnimal", Animal: "cow"},
			protocol.ActionSelectCowAnimal,
			protocol.SelectCowAnimal{PlayerID: "alice", Animal: "cow"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.msg.Type, func(t *testing.T) {
			typ, payload, err := tc.msg.Action("alice")
			require.NoError(t, err)
			assert.Equal(t, tc.typ, typ)
			assert.Equal(t, tc.payload, payload)
		})
	}
}

func TestClientMessage_ActionErrors(t *testing.T) {
	_, _, err := ClientMessage{Type: "LockPick"}.Action("alice")
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, _, err = ClientMessage{Type: "selectCowTarget"}.Action("alice")
	assert.Error(t, err)

	_, _, err = ClientMessage{Type: "selectCowAnimal"}.Action("alice")
	assert.Error(t, err)
}
