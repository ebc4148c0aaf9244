package types

// StateSnapshot:
//   stateVersion: number
//   phase: "setup" | "turn.choice" | "auction.*" | "cow.*" | "turn.end" | "game.end"
//   players: PublicPlayer[]
//   deck: Card[], discard: Card[]
//   turnOwnerId, hostId, donkeyDrawCount
//   auction: PublicAuction | null
//   cow: PublicCowTrade | null   // never carries committed card ids
//   log: string[]
//   scores: Score[]              // only at game.end

// Snapshot is the public view of the game broadcast in state.update envelopes
// and written to the snapshot cache. It has no field that could hold a
// cow-trade secret.
type Snapshot struct {
	Phase           string          `json:"phase"`
	Players         []PublicPlayer  `json:"players"`
	Deck            []Card          `json:"deck"`
	Discard         []Card          `json:"discard"`
	TurnOwnerID     string          `json:"turnOwnerId"`
	DonkeyDrawCount int             `json:"donkeyDrawCount"`
	Auction         *PublicAuction  `json:"auction"`
	Cow             *PublicCowTrade `json:"cow"`
	Log             []string        `json:"log"`
	HostID          string          `json:"hostId,omitempty"`
	StateVersion    uint64          `json:"stateVersion"`
	Scores          []Score         `json:"scores,omitempty"`
}

type MoneyCard struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

type Card struct {
	ID     string `json:"id"`
	Animal string `json:"animal"`
}

type PublicPlayer struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	MoneyCards []MoneyCard    `json:"moneyCards"`
	Animals    map[string]int `json:"animals"`
}

type Bid struct {
	PlayerID     string   `json:"playerId"`
	MoneyCardIDs []string `json:"moneyCardIds"`
	Total        int      `json:"total"`
	TS           int64    `json:"ts"`
	ActionID     string   `json:"actionId"`
}

type PublicAuction struct {
	AuctioneerID string   `json:"auctioneerId"`
	Card         Card     `json:"card"`
	Highest      *Bid     `json:"highest,omitempty"`
	Passes       []string `json:"passes"`
	Closed       bool     `json:"closed"`
}

// PublicCowTrade reports who has committed, not what they committed.
type PublicCowTrade struct {
	InitiatorID        string `json:"initiatorId"`
	TargetPlayerID     string `json:"targetPlayerId,omitempty"`
	TargetAnimal       string `json:"targetAnimal,omitempty"`
	InitiatorCommitted bool   `json:"initiatorCommitted"`
	TargetCommitted    bool   `json:"targetCommitted"`
}

type Score struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}
