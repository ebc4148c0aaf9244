package engine

import "github.com/DoyleJ11/kuhhandel/pkg/types"

// Clone returns a deep copy, secrets included. The Host applies reducers to a
// clone and keeps it only if the reducer succeeds.
func (s *State) Clone() *State {
	out := *s
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		cp := p
		cp.MoneyCards = append([]MoneyCard(nil), p.MoneyCards...)
		cp.Animals = make(map[Animal]int, len(p.Animals))
		for a, n := range p.Animals {
			cp.Animals[a] = n
		}
		out.Players[i] = cp
	}
	out.Deck = append([]Card(nil), s.Deck...)
	out.Discard = append([]Card(nil), s.Discard...)
	out.Log = append([]string(nil), s.Log...)
	out.Scores = append([]Score(nil), s.Scores...)
	if s.Auction != nil {
		a := *s.Auction
		a.Passes = append([]string(nil), s.Auction.Passes...)
		if s.Auction.Highest != nil {
			h := *s.Auction.Highest
			h.MoneyCardIDs = append([]string(nil), s.Auction.Highest.MoneyCardIDs...)
			a.Highest = &h
		}
		out.Auction = &a
	}
	if s.Cow != nil {
		c := *s.Cow
		c.InitiatorSecret = cloneSecret(s.Cow.InitiatorSecret)
		c.TargetSecret = cloneSecret(s.Cow.TargetSecret)
		out.Cow = &c
	}
	return &out
}

// cloneSecret keeps the nil / non-nil distinction: an empty commit is still a commit.
func cloneSecret(ids []string) []string {
	if ids == nil {
		return nil
	}
	return append(make([]string, 0, len(ids)), ids...)
}

// Public projects the state into the broadcastable snapshot.
func (s *State) Public() types.Snapshot {
	snap := types.Snapshot{
		Phase:           string(s.Phase),
		Players:         make([]types.PublicPlayer, len(s.Players)),
		Deck:            toPublicCards(s.Deck),
		Discard:         toPublicCards(s.Discard),
		TurnOwnerID:     s.TurnOwnerID,
		DonkeyDrawCount: s.DonkeyDrawCount,
		Log:             append([]string{}, s.Log...),
		HostID:          s.HostID,
		StateVersion:    s.StateVersion,
	}
	for i, p := range s.Players {
		pp := types.PublicPlayer{
			ID:         p.ID,
			Name:       p.Name,
			MoneyCards: make([]types.MoneyCard, len(p.MoneyCards)),
			Animals:    make(map[string]int, len(p.Animals)),
		}
		for j, m := range p.MoneyCards {
			pp.MoneyCards[j] = types.MoneyCard{ID: m.ID, Value: m.Value}
		}
		for a, n := range p.Animals {
			pp.Animals[string(a)] = n
		}
		snap.Players[i] = pp
	}
	if s.Auction != nil {
		pa := &types.PublicAuction{
			AuctioneerID: s.Auction.AuctioneerID,
			Card:         types.Card{ID: s.Auction.Card.ID, Animal: string(s.Auction.Card.Animal)},
			Passes:       append([]string{}, s.Auction.Passes...),
			Closed:       s.Auction.Closed,
		}
		if h := s.Auction.Highest; h != nil {
			pa.Highest = &types.Bid{
				PlayerID:     h.PlayerID,
				MoneyCardIDs: append([]string{}, h.MoneyCardIDs...),
				Total:        h.Total,
				TS:           h.TS,
				ActionID:     h.ActionID,
			}
		}
		snap.Auction = pa
	}
	if s.Cow != nil {
		snap.Cow = &types.PublicCowTrade{
			InitiatorID:        s.Cow.InitiatorID,
			TargetPlayerID:     s.Cow.TargetID,
			TargetAnimal:       string(s.Cow.Animal),
			InitiatorCommitted: s.Cow.InitiatorCommitted,
			TargetCommitted:    s.Cow.TargetCommitted,
		}
	}
	for _, sc := range s.Scores {
		snap.Scores = append(snap.Scores, types.Score{PlayerID: sc.PlayerID, Score: sc.Score})
	}
	return snap
}

// FromSnapshot rebuilds a whole State from a received snapshot. Replicas
// replace their state with the result; nothing is merged.
func FromSnapshot(snap types.Snapshot) State {
	s := State{
		Phase:           Phase(snap.Phase),
		Players:         make([]Player, len(snap.Players)),
		Deck:            fromPublicCards(snap.Deck),
		Discard:         fromPublicCards(snap.Discard),
		TurnOwnerID:     snap.TurnOwnerID,
		DonkeyDrawCount: snap.DonkeyDrawCount,
		Log:             append([]string(nil), snap.Log...),
		HostID:          snap.HostID,
		StateVersion:    snap.StateVersion,
	}
	for i, pp := range snap.Players {
		p := Player{
			ID:         pp.ID,
			Name:       pp.Name,
			MoneyCards: make([]MoneyCard, len(pp.MoneyCards)),
			Animals:    emptyAnimals(),
		}
		for j, m := range pp.MoneyCards {
			p.MoneyCards[j] = MoneyCard{ID: m.ID, Value: m.Value}
		}
		for a, n := range pp.Animals {
			p.Animals[Animal(a)] = n
		}
		s.Players[i] = p
	}
	if pa := snap.Auction; pa != nil {
		a := &Auction{
			AuctioneerID: pa.AuctioneerID,
			Card:         Card{ID: pa.Card.ID, Animal: Animal(pa.Card.Animal)},
			Passes:       append([]string(nil), pa.Passes...),
			Closed:       pa.Closed,
		}
		if h := pa.Highest; h != nil {
			a.Highest = &Bid{
				PlayerID:     h.PlayerID,
				MoneyCardIDs: append([]string(nil), h.MoneyCardIDs...),
				Total:        h.Total,
				TS:           h.TS,
				ActionID:     h.ActionID,
			}
		}
		s.Auction = a
	}
	if pc := snap.Cow; pc != nil {
		s.Cow = &CowTrade{
			InitiatorID:        pc.InitiatorID,
			TargetID:           pc.TargetPlayerID,
			Animal:             Animal(pc.TargetAnimal),
			InitiatorCommitted: pc.InitiatorCommitted,
			TargetCommitted:    pc.TargetCommitted,
		}
	}
	for _, sc := range snap.Scores {
		s.Scores = append(s.Scores, Score{PlayerID: sc.PlayerID, Score: sc.Score})
	}
	return s
}

func toPublicCards(cards []Card) []types.Card {
	out := make([]types.Card, len(cards))
	for i, c := range cards {
		out[i] = types.Card{ID: c.ID, Animal: string(c.Animal)}
	}
	return out
}

func fromPublicCards(cards []types.Card) []Card {
	out := make([]Card, len(cards))
	for i, c := range cards {
		out[i] = Card{ID: c.ID, Animal: Animal(c.Animal)}
	}
	return out
}
