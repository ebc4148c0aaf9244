package protocol

import "github.com/DoyleJ11/kuhhandel/pkg/types"

// PlayerAction is the payload of every action that only names its sender:
// startGame, chooseAuction, passBid, hostAward, hostBuyback, chooseCowTrade,
// cancelCowTrade and revealCowTrade.
type PlayerAction struct {
	PlayerID string `json:"playerId"`
}

// MoneyAction carries a money-card selection: placeBid, payBuyback and
// commitCowTrade.
type MoneyAction struct {
	PlayerID     string   `json:"playerId"`
	MoneyCardIDs []string `json:"moneyCardIds"`
}

type SelectCowTarget struct {
	PlayerID string `json:"playerId"`
	TargetID string `json:"targetId"`
}

type SelectCowAnimal struct {
	PlayerID string `json:"playerId"`
	Animal   string `json:"animal"`
}

type StateUpdate struct {
	State types.Snapshot `json:"state"`
}

type Join struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

type Leave struct {
	PlayerID string `json:"playerId"`
}

type HostChanged struct {
	NewHostID string `json:"newHostId"`
}

type RequestState struct {
	RequesterID string `json:"requesterId"`
}
