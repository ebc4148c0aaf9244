package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrWrongPhase = errors.New("wrong phase")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrPlayerExists = errors.New("player already seated")
var ErrTooFewPlayers = errors.New("not enough players to start")
var ErrTooManyPlayers = errors.New("too many players")
var ErrMoneyNotOwned = errors.New("money card not owned by player")
var ErrDuplicateMoneyCard = errors.New("money card listed twice")
var ErrAnimalLocked = errors.New("animal is locked")
var ErrDeckEmpty = errors.New("deck is empty")

type Animal string

const (
	AnimalChicken Animal = "chicken"
	AnimalGoose   Animal = "goose"
	AnimalCat     Animal = "cat"
	AnimalDog     Animal = "dog"
	AnimalSheep   Animal = "sheep"
	AnimalSnake   Animal = "snake"
	AnimalDonkey  Animal = "donkey"
	AnimalPig     Animal = "pig"
	AnimalCow     Animal = "cow"
	AnimalHorse   Animal = "horse"
)

type Phase string

const (
	PhaseSetup           Phase = "setup"
	PhaseTurnChoice      Phase = "turn.choice"
	PhaseAuctionBidding  Phase = "auction.bidding"
	PhaseAuctionClosing  Phase = "auction.closing"
	PhaseAuctionBuyback  Phase = "auction.buyback"
	PhaseCowSelectTarget Phase = "cow.selectTarget"
	PhaseCowSelectAnimal Phase = "cow.selectAnimal"
	PhaseCowCommit       Phase = "cow.commit"
	PhaseCowReveal       Phase = "cow.reveal"
	PhaseTurnEnd         Phase = "turn.end"
	PhaseGameEnd         Phase = "game.end"
)

type MoneyCard struct {
	ID    string
	Value int
}

type Card struct {
	ID     string
	Animal Animal
}

type Player struct {
	ID         string
	Name       string
	MoneyCards []MoneyCard
	Animals    map[Animal]int
}

// Bid is the single best offer in an auction. TS is the Host receive time in
// milliseconds and only breaks ties between equal totals.
type Bid struct {
	PlayerID     string
	MoneyCardIDs []string
	Total        int
	TS           int64
	ActionID     string
}

type Auction struct {
	AuctioneerID string
	Card         Card
	Highest      *Bid
	Passes       []string
	Closed       bool
}

// CowTrade is the Host's copy of a negotiation. The secrets are nil until the
// side commits and never leave the Host: Public() has nowhere to put them.
type CowTrade struct {
	InitiatorID     string
	TargetID        string
	Animal          Animal
	// Committed flags are public. The secrets exist only on the Host that
	// received the commits.
	InitiatorCommitted bool
	TargetCommitted    bool
	InitiatorSecret    []string
	TargetSecret       []string
}

type Score struct {
	PlayerID string
	Score    int
}

type State struct {
	Phase           Phase
	Players         []Player
	Deck            []Card
	Discard         []Card
	TurnOwnerID     string
	DonkeyDrawCount int
	Auction         *Auction
	Cow             *CowTrade
	Log             []string
	HostID          string
	StateVersion    uint64
	Scores          []Score
}

// AddPlayer seats a participant during setup.
func AddPlayer(s *State, id, name string) error {
	if s.Phase != PhaseSetup {
		return ErrWrongPhase
	}
	if _, err := s.Player(id); err == nil {
		return ErrPlayerExists
	}
	if len(s.Players) >= MaxPlayers {
		return ErrTooManyPlayers
	}
	s.Players = append(s.Players, newPlayer(id, name))
	AppendLog(s, "join: %s (%s)", id, name)
	return nil
}

// RemovePlayer unseats a participant during setup.
func RemovePlayer(s *State, id string) error {
	if s.Phase != PhaseSetup {
		return ErrWrongPhase
	}
	for i := range s.Players {
		if s.Players[i].ID == id {
			s.Players = append(s.Players[:i], s.Players[i+1:]...)
			AppendLog(s, "leave: %s", id)
			return nil
		}
	}
	return ErrUnknownPlayer
}

// Setup deals the starting money and builds the shuffled deck. The phase is
// left at setup; StartTurn opens the first turn.
func Setup(s *State) error {
	if s.Phase != PhaseSetup {
		return ErrWrongPhase
	}
	if len(s.Players) < MinPlayers {
		return ErrTooFewPlayers
	}
	if len(s.Players) > MaxPlayers {
		return ErrTooManyPlayers
	}

	for i := range s.Players {
		p := &s.Players[i]
		p.MoneyCards = p.MoneyCards[:0]
		for _, denom := range MoneyDenoms {
			for n := 0; n < StartMoney[denom]; n++ {
				p.MoneyCards = append(p.MoneyCards, MoneyCard{ID: newCardID(), Value: denom})
			}
		}
		p.Animals = emptyAnimals()
	}

	deck := make([]Card, 0, len(Animals)*SetSize)
	for _, a := range Animals {
		for n := 0; n < SetSize; n++ {
			deck = append(deck, Card{ID: newCardID(), Animal: a})
		}
	}
	shuffleCards(deck)

	s.Deck = deck
	s.Discard = nil
	s.TurnOwnerID = s.Players[0].ID
	s.DonkeyDrawCount = 0
	s.Auction = nil
	s.Cow = nil
	s.Scores = nil

	names := make([]string, len(s.Players))
	for i, p := range s.Players {
		names[i] = p.Name
	}
	AppendLog(s, "game created: %s, deck %d cards", strings.Join(names, ", "), len(s.Deck))
	return nil
}

// StartGame is Setup followed by the first turn.
func StartGame(s *State) error {
	if err := Setup(s); err != nil {
		return err
	}
	StartTurn(s)
	return nil
}

func StartTurn(s *State) {
	s.Phase = PhaseTurnChoice
	AppendLog(s, "turn: %s", s.TurnOwnerID)
}

// RotateTurn hands the turn to the next seat.
func RotateTurn(s *State) {
	if len(s.Players) == 0 {
		return
	}
	idx := 0
	for i, p := range s.Players {
		if p.ID == s.TurnOwnerID {
			idx = i
			break
		}
	}
	s.TurnOwnerID = s.Players[(idx+1)%len(s.Players)].ID
}

// DrawCard takes the top card of the deck.
func DrawCard(s *State) (Card, error) {
	if len(s.Deck) == 0 {
		return Card{}, ErrDeckEmpty
	}
	c := s.Deck[0]
	s.Deck = s.Deck[1:]
	return c, nil
}

// GrantDonkeyPayout pays every player the bonus for the next donkey draw.
// After the fourth donkey it does nothing.
func GrantDonkeyPayout(s *State) (int, bool) {
	if s.DonkeyDrawCount >= len(DonkeyPayouts) {
		AppendLog(s, "donkey payout skipped: limit reached")
		return 0, false
	}
	amount := DonkeyPayouts[s.DonkeyDrawCount]
	for i := range s.Players {
		p := &s.Players[i]
		for _, value := range splitIntoDenoms(amount) {
			p.MoneyCards = append(p.MoneyCards, MoneyCard{ID: newCardID(), Value: value})
		}
	}
	s.DonkeyDrawCount++
	AppendLog(s, "donkey #%d: every player receives %d", s.DonkeyDrawCount, amount)
	return amount, true
}

// IsLocked reports whether some player has collected the full set of a kind.
func IsLocked(s *State, animal Animal) bool {
	for _, p := range s.Players {
		if p.Animals[animal] >= SetSize {
			return true
		}
	}
	return false
}

// CheckEnd moves the game to game.end once every kind is locked. Calling it
// again on an ended game changes nothing.
func CheckEnd(s *State) bool {
	if s.Phase == PhaseGameEnd {
		return true
	}
	if len(s.Players) == 0 {
		return false
	}
	for _, a := range Animals {
		if !IsLocked(s, a) {
			return false
		}
	}

	s.Phase = PhaseGameEnd
	s.Auction = nil
	s.Cow = nil
	s.Scores = FinalScores(s)

	ranking := make([]Score, len(s.Scores))
	copy(ranking, s.Scores)
	sort.SliceStable(ranking, func(i, j int) bool { return ranking[i].Score > ranking[j].Score })
	parts := make([]string, len(ranking))
	for i, r := range ranking {
		parts[i] = fmt.Sprintf("%d. %s (%d)", i+1, r.PlayerID, r.Score)
	}
	AppendLog(s, "game over: %s", strings.Join(parts, ", "))
	return true
}

// FinishTurn closes a settled turn: the end-of-game check runs first, then
// the turn passes to the next player.
func FinishTurn(s *State) error {
	if s.Phase != PhaseTurnEnd {
		return ErrWrongPhase
	}
	if CheckEnd(s) {
		return nil
	}
	RotateTurn(s)
	StartTurn(s)
	return nil
}

// FinalScores is the sum of a player's animal values times the number of
// completed sets they hold.
func FinalScores(s *State) []Score {
	out := make([]Score, 0, len(s.Players))
	for _, p := range s.Players {
		points, sets := 0, 0
		for _, a := range Animals {
			n := p.Animals[a]
			points += n * AnimalScores[a]
			sets += n / SetSize
		}
		out = append(out, Score{PlayerID: p.ID, Score: points * sets})
	}
	return out
}
