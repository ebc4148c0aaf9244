package cowtrade

import (
	"errors"

	"github.com/DoyleJ11/kuhhandel/internal/engine"
)

var ErrNoTrade = errors.New("no cow trade in progress")
var ErrInvalidTarget = errors.New("invalid cow trade target")
var ErrTargetLacksAnimal = errors.New("target does not own that animal")
var ErrNotParticipant = errors.New("player is not part of this trade")
var ErrAlreadyCommitted = errors.New("player already committed")
var ErrSecretsPending = errors.New("both sides have not committed yet")
var ErrNothingToTrade = errors.New("no other player owns a tradeable animal")

// Start opens a trade for the turn owner.
func Start(s *engine.State) error {
	if s.Phase != engine.PhaseTurnChoice {
		return engine.ErrWrongPhase
	}
	if !anyTarget(s, s.TurnOwnerID) {
		return ErrNothingToTrade
	}
	s.Cow = &engine.CowTrade{InitiatorID: s.TurnOwnerID}
	s.Phase = engine.PhaseCowSelectTarget
	engine.AppendLog(s, "cow trade: %s is looking for a partner", s.TurnOwnerID)
	return nil
}

// SelectTarget names the other side. The target must own something that is
// still tradeable.
func SelectTarget(s *engine.State, targetID string) error {
	c, err := trade(s, engine.PhaseCowSelectTarget)
	if err != nil {
		return err
	}
	if targetID == c.InitiatorID {
		return ErrInvalidTarget
	}
	target, err := s.Player(targetID)
	if err != nil {
		return err
	}
	if !engine.HasUnlockedAnimal(s, target) {
		return ErrInvalidTarget
	}
	c.TargetID = targetID
	s.Phase = engine.PhaseCowSelectAnimal
	engine.AppendLog(s, "cow trade: %s challenges %s", c.InitiatorID, targetID)
	return nil
}

func SelectAnimal(s *engine.State, animal engine.Animal) error {
	c, err := trade(s, engine.PhaseCowSelectAnimal)
	if err != nil {
		return err
	}
	if !engine.IsAnimal(animal) {
		return ErrTargetLacksAnimal
	}
	target, err := s.Player(c.TargetID)
	if err != nil {
		return err
	}
	if target.Animals[animal] <= 0 {
		return ErrTargetLacksAnimal
	}
	if engine.IsLocked(s, animal) {
		return engine.ErrAnimalLocked
	}
	c.Animal = animal
	s.Phase = engine.PhaseCowCommit
	engine.AppendLog(s, "cow trade: over %s", animal)
	return nil
}

// Commit stores a side's sealed offer. An empty offer is allowed. Once both
// sides have committed the trade waits in cow.reveal.
func Commit(s *engine.State, playerID string, moneyCardIDs []string) error {
	c, err := trade(s, engine.PhaseCowCommit)
	if err != nil {
		return err
	}
	var slot *[]string
	var committed *bool
	switch playerID {
	case c.InitiatorID:
		slot, committed = &c.InitiatorSecret, &c.InitiatorCommitted
	case c.TargetID:
		slot, committed = &c.TargetSecret, &c.TargetCommitted
	default:
		return ErrNotParticipant
	}
	if *committed {
		return ErrAlreadyCommitted
	}
	p, err := s.Player(playerID)
	if err != nil {
		return err
	}
	if _, err := engine.MoneyTotal(p, moneyCardIDs); err != nil {
		return err
	}
	*slot = append(make([]string, 0, len(moneyCardIDs)), moneyCardIDs...)
	*committed = true
	engine.AppendLog(s, "cow trade: %s committed", playerID)

	if c.InitiatorCommitted && c.TargetCommitted {
		s.Phase = engine.PhaseCowReveal
	}
	return nil
}

// Result describes a settled trade.
type Result struct {
	WinnerID string // empty on a tie
	Animals  int
	Tie      bool
}

// RevealAndResolve settles the trade. Equal totals move nothing. Otherwise
// the higher offer wins two animals if both hold at least two, else one,
// never more than the loser has, and the two offers change hands.
func RevealAndResolve(s *engine.State) (Result, error) {
	c := s.Cow
	if c == nil {
		return Result{}, ErrNoTrade
	}
	if s.Phase != engine.PhaseCowCommit && s.Phase != engine.PhaseCowReveal {
		return Result{}, engine.ErrWrongPhase
	}
	if c.InitiatorSecret == nil || c.TargetSecret == nil {
		return Result{}, ErrSecretsPending
	}
	initiator, err := s.Player(c.InitiatorID)
	if err != nil {
		return Result{}, err
	}
	target, err := s.Player(c.TargetID)
	if err != nil {
		return Result{}, err
	}
	iTotal, err := engine.MoneyTotal(initiator, c.InitiatorSecret)
	if err != nil {
		return Result{}, err
	}
	tTotal, err := engine.MoneyTotal(target, c.TargetSecret)
	if err != nil {
		return Result{}, err
	}

	if iTotal == tTotal {
		engine.AppendLog(s, "cow trade: %d against %d, tie, nothing moves", iTotal, tTotal)
		finish(s)
		return Result{Tie: true}, nil
	}

	winner, loser := initiator, target
	if tTotal > iTotal {
		winner, loser = target, initiator
	}
	units := 1
	if winner.Animals[c.Animal] >= 2 && loser.Animals[c.Animal] >= 2 {
		units = 2
	}
	units = min(units, loser.Animals[c.Animal])
	loser.Animals[c.Animal] -= units
	winner.Animals[c.Animal] += units

	// Both offers were validated above, so neither transfer can fail.
	if err := engine.TransferMoney(initiator, target, c.InitiatorSecret); err != nil {
		return Result{}, err
	}
	if err := engine.TransferMoney(target, initiator, c.TargetSecret); err != nil {
		return Result{}, err
	}

	engine.AppendLog(s, "cow trade: %d against %d, %s takes %d %s", iTotal, tTotal, winner.ID, units, c.Animal)
	finish(s)
	return Result{WinnerID: winner.ID, Animals: units}, nil
}

// Cancel abandons a trade before any offer is made.
func Cancel(s *engine.State) error {
	if s.Cow == nil {
		return ErrNoTrade
	}
	if s.Phase != engine.PhaseCowSelectTarget && s.Phase != engine.PhaseCowSelectAnimal {
		return engine.ErrWrongPhase
	}
	engine.AppendLog(s, "cow trade: cancelled by %s", s.Cow.InitiatorID)
	s.Cow = nil
	s.Phase = engine.PhaseTurnChoice
	return nil
}

// CancelOnHostMigration drops a trade stuck between commit and reveal. A new
// Host never received the other side's offer, so the trade cannot finish.
// It reports whether anything was cancelled.
func CancelOnHostMigration(s *engine.State) bool {
	if s.Phase != engine.PhaseCowCommit && s.Phase != engine.PhaseCowReveal {
		return false
	}
	s.Cow = nil
	s.Phase = engine.PhaseTurnChoice
	engine.AppendLog(s, "cow trade: host changed mid-trade, back to turn choice")
	return true
}

// Targets lists players the initiator could challenge.
func Targets(s *engine.State, initiatorID string) []string {
	var out []string
	for i := range s.Players {
		p := &s.Players[i]
		if p.ID != initiatorID && engine.HasUnlockedAnimal(s, p) {
			out = append(out, p.ID)
		}
	}
	return out
}

func anyTarget(s *engine.State, initiatorID string) bool {
	return len(Targets(s, initiatorID)) > 0
}

func trade(s *engine.State, phase engine.Phase) (*engine.CowTrade, error) {
	if s.Phase != phase {
		return nil, engine.ErrWrongPhase
	}
	if s.Cow == nil {
		return nil, ErrNoTrade
	}
	return s.Cow, nil
}

func finish(s *engine.State) {
	s.Cow = nil
	s.Phase = engine.PhaseTurnEnd
}
