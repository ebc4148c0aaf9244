package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seatPlayers returns a setup-phase state with the given ids seated.
func seatPlayers(t *testing.T, ids ...string) State {
	t.Helper()
	s := NewEmptyState()
	for _, id := range ids {
		require.NoError(t, AddPlayer(&s, id, "name-"+id))
	}
	return s
}

// stubIDs makes card ids predictable for the duration of a test.
func stubIDs(t *testing.T) {
	t.Helper()
	n := 0
	prevID, prevShuffle := newCardID, shuffleCards
	newCardID = func() string {
		n++
		return fmt.Sprintf("c%d", n)
	}
	shuffleCards = func([]Card) {}
	t.Cleanup(func() {
		newCardID = prevID
		shuffleCards = prevShuffle
	})
}

func lockEverything(s *State, owner string) {
	p, _ := s.Player(owner)
	for _, a := range Animals {
		p.Animals[a] = SetSize
	}
}

func TestStartGame(t *testing.T) {
	stubIDs(t)
	s := seatPlayers(t, "a", "b", "c")

	require.NoError(t, StartGame(&s))

	assert.Equal(t, PhaseTurnChoice, s.Phase)
	assert.Equal(t, "a", s.TurnOwnerID)
	assert.Len(t, s.Deck, len(Animals)*SetSize)
	for _, p := range s.Players {
		assert.Len(t, p.MoneyCards, 7)
		assert.Equal(t, 90, SpendableTotal(&p))
	}
}

func TestStartGame_PlayerCount(t *testing.T) {
	cases := []struct {
		name    string
		ids     []string
		wantErr error
	}{
		{name: "single player", ids: []string{"a"}, wantErr: ErrTooFewPlayers},
		{name: "two players", ids: []string{"a", "b"}},
		{name: "six players", ids: []string{"a", "b", "c", "d", "e", "f"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := seatPlayers(t, tc.ids...)
			err := StartGame(&s)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, PhaseSetup, s.Phase)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAddPlayer(t *testing.T) {
	s := seatPlayers(t, "a", "b", "c", "d", "e", "f")
	assert.ErrorIs(t, AddPlayer(&s, "a", "dup"), ErrPlayerExists)
	assert.ErrorIs(t, AddPlayer(&s, "g", "late"), ErrTooManyPlayers)

	require.NoError(t, RemovePlayer(&s, "f"))
	require.NoError(t, StartGame(&s))
	assert.ErrorIs(t, AddPlayer(&s, "z", "after start"), ErrWrongPhase)
	assert.ErrorIs(t, RemovePlayer(&s, "a"), ErrWrongPhase)
}

func TestGrantDonkeyPayout_EscalatesAndCaps(t *testing.T) {
	s := seatPlayers(t, "a", "b")
	want := []int{50, 100, 200, 500}
	running := 0
	for i, amount := range want {
		got, ok := GrantDonkeyPayout(&s)
		require.True(t, ok, "donkey %d", i+1)
		assert.Equal(t, amount, got)
		running += amount
		for _, p := range s.Players {
			assert.Equal(t, running, SpendableTotal(&p))
		}
	}
	assert.Equal(t, 4, s.DonkeyDrawCount)

	_, ok := GrantDonkeyPayout(&s)
	assert.False(t, ok)
	assert.Equal(t, 4, s.DonkeyDrawCount)
}

func TestSplitIntoDenoms(t *testing.T) {
	assert.Equal(t, []int{50}, splitIntoDenoms(50))
	assert.Equal(t, []int{200}, splitIntoDenoms(200))
	assert.Equal(t, []int{100, 50, 10, 10}, splitIntoDenoms(170))
}

func TestMoneyTotal(t *testing.T) {
	p := Player{ID: "a", MoneyCards: []MoneyCard{{ID: "m1", Value: 10}, {ID: "m2", Value: 50}}}

	total, err := MoneyTotal(&p, []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, 60, total)

	_, err = MoneyTotal(&p, []string{"m1", "m1"})
	assert.ErrorIs(t, err, ErrDuplicateMoneyCard)

	_, err = MoneyTotal(&p, []string{"other"})
	assert.ErrorIs(t, err, ErrMoneyNotOwned)
}

func TestTransferMoney_NothingMovesOnError(t *testing.T) {
	src := Player{ID: "a", MoneyCards: []MoneyCard{{ID: "m1", Value: 10}}}
	dst := Player{ID: "b"}

	err := TransferMoney(&src, &dst, []string{"m1", "nope"})
	require.True(t, errors.Is(err, ErrMoneyNotOwned))
	assert.Len(t, src.MoneyCards, 1)
	assert.Empty(t, dst.MoneyCards)

	require.NoError(t, TransferMoney(&src, &dst, []string{"m1"}))
	assert.Empty(t, src.MoneyCards)
	assert.Equal(t, []MoneyCard{{ID: "m1", Value: 10}}, dst.MoneyCards)
}

func TestCheckEnd(t *testing.T) {
	s := seatPlayers(t, "a", "b")
	require.NoError(t, StartGame(&s))
	s.Phase = PhaseTurnEnd

	assert.False(t, CheckEnd(&s))

	lockEverything(&s, "a")
	require.True(t, CheckEnd(&s))
	assert.Equal(t, PhaseGameEnd, s.Phase)
	require.Len(t, s.Scores, 2)

	logLen := len(s.Log)
	scores := append([]Score(nil), s.Scores...)
	assert.True(t, CheckEnd(&s))
	assert.Equal(t, logLen, len(s.Log), "second check must not log again")
	assert.Equal(t, scores, s.Scores)
}

func TestFinishTurn(t *testing.T) {
	s := seatPlayers(t, "a", "b", "c")
	require.NoError(t, StartGame(&s))

	assert.ErrorIs(t, FinishTurn(&s), ErrWrongPhase)

	s.Phase = PhaseTurnEnd
	require.NoError(t, FinishTurn(&s))
	assert.Equal(t, PhaseTurnChoice, s.Phase)
	assert.Equal(t, "b", s.TurnOwnerID)

	s.Phase = PhaseTurnEnd
	s.TurnOwnerID = "c"
	require.NoError(t, FinishTurn(&s))
	assert.Equal(t, "a", s.TurnOwnerID)

	s.Phase = PhaseTurnEnd
	lockEverything(&s, "b")
	require.NoError(t, FinishTurn(&s))
	assert.Equal(t, PhaseGameEnd, s.Phase)
}

func TestFinalScores(t *testing.T) {
	s := seatPlayers(t, "a", "b")
	a, _ := s.Player("a")
	a.Animals[AnimalHorse] = 4
	a.Animals[AnimalChicken] = 2
	b, _ := s.Player("b")
	b.Animals[AnimalCow] = 3

	scores := FinalScores(&s)
	assert.Equal(t, []Score{
		{PlayerID: "a", Score: (4*1000 + 2*10) * 1},
		{PlayerID: "b", Score: 0},
	}, scores)
}

func TestIsLocked(t *testing.T) {
	s := seatPlayers(t, "a", "b")
	b, _ := s.Player("b")
	b.Animals[AnimalPig] = 3
	assert.False(t, IsLocked(&s, AnimalPig))
	b.Animals[AnimalPig] = 4
	assert.True(t, IsLocked(&s, AnimalPig))
	assert.False(t, HasUnlockedAnimal(&s, b))
}

func TestAppendLog_Bounded(t *testing.T) {
	s := NewEmptyState()
	for i := 0; i < maxLogLines+25; i++ {
		AppendLog(&s, "line %d", i)
	}
	require.Len(t, s.Log, maxLogLines)
	assert.Equal(t, "line 25", s.Log[0])
}

func TestClone_IsDeep(t *testing.T) {
	s := seatPlayers(t, "a", "b")
	require.NoError(t, StartGame(&s))
	s.Cow = &CowTrade{InitiatorID: "a", TargetID: "b", Animal: AnimalCat, InitiatorSecret: []string{}}
	s.Auction = &Auction{AuctioneerID: "a", Highest: &Bid{PlayerID: "b", MoneyCardIDs: []string{"x"}}}

	c := s.Clone()
	c.Players[0].Animals[AnimalCat] = 3
	c.Players[0].MoneyCards[0].Value = 999
	c.Auction.Highest.MoneyCardIDs[0] = "y"
	c.Cow.InitiatorSecret = append(c.Cow.InitiatorSecret, "m")

	assert.Equal(t, 0, s.Players[0].Animals[AnimalCat])
	assert.NotEqual(t, 999, s.Players[0].MoneyCards[0].Value)
	assert.Equal(t, "x", s.Auction.Highest.MoneyCardIDs[0])
	assert.Empty(t, s.Cow.InitiatorSecret)
	assert.NotNil(t, c.Cow.InitiatorSecret)
}

func TestPublic_HidesSecrets(t *testing.T) {
	s := seatPlayers(t, "a", "b")
	require.NoError(t, StartGame(&s))
	s.Phase = PhaseCowReveal
	s.Cow = &CowTrade{
		InitiatorID:        "a",
		TargetID:           "b",
		Animal:             AnimalDog,
		InitiatorCommitted: true,
		InitiatorSecret:    []string{"secret-1"},
	}
	s.StateVersion = 7

	snap := s.Public()
	require.NotNil(t, snap.Cow)
	assert.True(t, snap.Cow.InitiatorCommitted)
	assert.False(t, snap.Cow.TargetCommitted)
	assert.Equal(t, "dog", snap.Cow.TargetAnimal)
	assert.Equal(t, uint64(7), snap.StateVersion)

	back := FromSnapshot(snap)
	require.NotNil(t, back.Cow)
	assert.Nil(t, back.Cow.InitiatorSecret)
	assert.True(t, back.Cow.InitiatorCommitted)
	assert.False(t, back.Cow.TargetCommitted)
	assert.Equal(t, snap.Cow, back.Public().Cow)
	assert.Equal(t, s.Players[0].MoneyCards, back.Players[0].MoneyCards)
	assert.Equal(t, s.Deck, back.Deck)
	assert.Equal(t, s.Phase, back.Phase)
}
