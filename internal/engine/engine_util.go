package engine

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

func NewEmptyState() State {
	return State{Phase: PhaseSetup}
}

// Player returns a pointer into s.Players.
func (s *State) Player(id string) (*Player, error) {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
}

// MoneyTotal sums the referenced money cards after checking that p owns each
// of them exactly once.
func MoneyTotal(p *Player, ids []string) (int, error) {
	byID := make(map[string]int, len(p.MoneyCards))
	for _, m := range p.MoneyCards {
		byID[m.ID] = m.Value
	}
	seen := make(map[string]bool, len(ids))
	total := 0
	for _, id := range ids {
		if seen[id] {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateMoneyCard, id)
		}
		seen[id] = true
		v, ok := byID[id]
		if !ok {
			return 0, fmt.Errorf("%w: %s owned by %s", ErrMoneyNotOwned, id, p.ID)
		}
		total += v
	}
	return total, nil
}

// SpendableTotal is the face value of everything p holds.
func SpendableTotal(p *Player) int {
	total := 0
	for _, m := range p.MoneyCards {
		total += m.Value
	}
	return total
}

// TransferMoney moves the listed cards from src to dst. Ownership is checked
// before anything moves.
func TransferMoney(src, dst *Player, ids []string) error {
	if _, err := MoneyTotal(src, ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	move := make(map[string]bool, len(ids))
	for _, id := range ids {
		move[id] = true
	}
	kept := src.MoneyCards[:0:0]
	for _, m := range src.MoneyCards {
		if move[m.ID] {
			dst.MoneyCards = append(dst.MoneyCards, m)
			continue
		}
		kept = append(kept, m)
	}
	src.MoneyCards = kept
	return nil
}

func HasAnyAnimal(p *Player) bool {
	for _, n := range p.Animals {
		if n > 0 {
			return true
		}
	}
	return false
}

// HasUnlockedAnimal reports whether p owns at least one kind that can still be traded.
func HasUnlockedAnimal(s *State, p *Player) bool {
	for a, n := range p.Animals {
		if n > 0 && !IsLocked(s, a) {
			return true
		}
	}
	return false
}

func AppendLog(s *State, format string, args ...any) {
	s.Log = append(s.Log, fmt.Sprintf(format, args...))
	if over := len(s.Log) - maxLogLines; over > 0 {
		s.Log = append([]string(nil), s.Log[over:]...)
	}
}

func newPlayer(id, name string) Player {
	return Player{ID: id, Name: name, Animals: emptyAnimals()}
}

func emptyAnimals() map[Animal]int {
	m := make(map[Animal]int, len(Animals))
	for _, a := range Animals {
		m[a] = 0
	}
	return m
}

// splitIntoDenoms pays amount greedily in the largest denominations.
func splitIntoDenoms(amount int) []int {
	var out []int
	for i := len(MoneyDenoms) - 1; i >= 0; i-- {
		d := MoneyDenoms[i]
		if d == 0 {
			continue
		}
		for amount >= d {
			out = append(out, d)
			amount -= d
		}
	}
	return out
}

var newCardID = func() string {
	return uuid.NewString()
}

var shuffleCards = func(cards []Card) {
	rand.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
}
