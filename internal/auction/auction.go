package auction

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/kuhhandel/internal/engine"
)

var ErrNoAuction = errors.New("no auction in progress")
var ErrAlreadyPassed = errors.New("player already passed")
var ErrAuctioneerCannotBid = errors.New("auctioneer cannot bid or pass")
var ErrLeaderCannotPass = errors.New("highest bidder cannot pass")
var ErrEmptyBid = errors.New("bid names no money cards")
var ErrBidTooLow = errors.New("bid does not beat the highest bid")
var ErrNoBidToBuyBack = errors.New("nothing to buy back")
var ErrCannotAffordBuyback = errors.New("auctioneer cannot match the highest bid")

// EnterBidding draws the top card and opens bidding with the turn owner as
// auctioneer. A donkey pays everyone before it is auctioned. With nobody able
// to bid the auction goes straight to closing.
func EnterBidding(s *engine.State) error {
	if s.Phase != engine.PhaseTurnChoice {
		return engine.ErrWrongPhase
	}
	card, err := engine.DrawCard(s)
	if err != nil {
		return err
	}
	if card.Animal == engine.AnimalDonkey {
		engine.GrantDonkeyPayout(s)
	}

	s.Auction = &engine.Auction{
		AuctioneerID: s.TurnOwnerID,
		Card:         card,
		Passes:       []string{},
	}
	s.Phase = engine.PhaseAuctionBidding
	engine.AppendLog(s, "auction: %s draws %s", s.TurnOwnerID, card.Animal)

	if len(EligibleBidders(s)) == 0 {
		closeBidding(s)
		engine.AppendLog(s, "auction: nobody can bid, closing")
	}
	return nil
}

// PlaceBid records a bid if it beats the current best: a strictly higher
// total, or the same total received earlier. ts is the Host receive time.
func PlaceBid(s *engine.State, playerID string, moneyCardIDs []string, actionID string, ts int64) error {
	a, err := bidding(s)
	if err != nil {
		return err
	}
	if playerID == a.AuctioneerID {
		return ErrAuctioneerCannotBid
	}
	if slices.Contains(a.Passes, playerID) {
		return ErrAlreadyPassed
	}
	if len(moneyCardIDs) == 0 {
		return ErrEmptyBid
	}
	bidder, err := s.Player(playerID)
	if err != nil {
		return err
	}
	total, err := engine.MoneyTotal(bidder, moneyCardIDs)
	if err != nil {
		return err
	}

	if cur := a.Highest; cur != nil {
		beats := total > cur.Total || (total == cur.Total && ts < cur.TS)
		if !beats {
			return ErrBidTooLow
		}
	}
	a.Highest = &engine.Bid{
		PlayerID:     playerID,
		MoneyCardIDs: slices.Clone(moneyCardIDs),
		Total:        total,
		TS:           ts,
		ActionID:     actionID,
	}
	engine.AppendLog(s, "bid: %s @ %d", playerID, total)
	MaybeClose(s)
	return nil
}

// Pass withdraws playerID from the auction for good.
func Pass(s *engine.State, playerID string) error {
	a, err := bidding(s)
	if err != nil {
		return err
	}
	if playerID == a.AuctioneerID {
		return ErrAuctioneerCannotBid
	}
	if _, err := s.Player(playerID); err != nil {
		return err
	}
	if slices.Contains(a.Passes, playerID) {
		return ErrAlreadyPassed
	}
	if a.Highest != nil && a.Highest.PlayerID == playerID {
		return ErrLeaderCannotPass
	}
	a.Passes = append(a.Passes, playerID)
	engine.AppendLog(s, "pass: %s", playerID)
	MaybeClose(s)
	return nil
}

// MaybeClose ends bidding once every eligible bidder except the current
// leader has passed. It reports whether bidding is closed.
func MaybeClose(s *engine.State) bool {
	a := s.Auction
	if a == nil || s.Phase != engine.PhaseAuctionBidding {
		return a != nil && a.Closed
	}
	leader := ""
	if a.Highest != nil {
		leader = a.Highest.PlayerID
	}
	for _, id := range EligibleBidders(s) {
		if id == leader {
			continue
		}
		if !slices.Contains(a.Passes, id) {
			return false
		}
	}
	closeBidding(s)
	if leader != "" {
		engine.AppendLog(s, "auction: all others passed, %s leads", leader)
	} else {
		engine.AppendLog(s, "auction: everyone passed")
	}
	return true
}

// Award settles the auction in one step: the leader pays the auctioneer and
// takes the card, or with no bid the auctioneer keeps it for free.
func Award(s *engine.State) error {
	if s.Phase != engine.PhaseAuctionClosing && s.Phase != engine.PhaseAuctionBuyback {
		return engine.ErrWrongPhase
	}
	a := s.Auction
	if a == nil {
		return ErrNoAuction
	}
	seller, err := s.Player(a.AuctioneerID)
	if err != nil {
		return err
	}

	if a.Highest == nil {
		seller.Animals[a.Card.Animal]++
		engine.AppendLog(s, "award: no bids, %s keeps %s", seller.ID, a.Card.Animal)
		settle(s)
		return nil
	}

	buyer, err := s.Player(a.Highest.PlayerID)
	if err != nil {
		return err
	}
	if err := engine.TransferMoney(buyer, seller, a.Highest.MoneyCardIDs); err != nil {
		return err
	}
	buyer.Animals[a.Card.Animal]++
	engine.AppendLog(s, "award: %s buys %s for %d", buyer.ID, a.Card.Animal, a.Highest.Total)
	settle(s)
	return nil
}

// StartBuyback lets the auctioneer claim the card at the highest bid. It only
// checks that they could pay; the cards are chosen with PayBuyback.
func StartBuyback(s *engine.State) error {
	if s.Phase != engine.PhaseAuctionClosing {
		return engine.ErrWrongPhase
	}
	a := s.Auction
	if a == nil {
		return ErrNoAuction
	}
	if a.Highest == nil {
		return ErrNoBidToBuyBack
	}
	seller, err := s.Player(a.AuctioneerID)
	if err != nil {
		return err
	}
	if engine.SpendableTotal(seller) < a.Highest.Total {
		return ErrCannotAffordBuyback
	}
	s.Phase = engine.PhaseAuctionBuyback
	engine.AppendLog(s, "buyback: %s matches %d", seller.ID, a.Highest.Total)
	return nil
}

// PayBuyback pays the highest bidder at least the highest bid from the
// auctioneer's own cards; the auctioneer keeps the animal.
func PayBuyback(s *engine.State, moneyCardIDs []string) error {
	if s.Phase != engine.PhaseAuctionBuyback {
		return engine.ErrWrongPhase
	}
	a := s.Auction
	if a == nil {
		return ErrNoAuction
	}
	if a.Highest == nil {
		return ErrNoBidToBuyBack
	}
	seller, err := s.Player(a.AuctioneerID)
	if err != nil {
		return err
	}
	bidder, err := s.Player(a.Highest.PlayerID)
	if err != nil {
		return err
	}
	total, err := engine.MoneyTotal(seller, moneyCardIDs)
	if err != nil {
		return err
	}
	if total < a.Highest.Total {
		return ErrCannotAffordBuyback
	}
	if err := engine.TransferMoney(seller, bidder, moneyCardIDs); err != nil {
		return err
	}
	seller.Animals[a.Card.Animal]++
	engine.AppendLog(s, "buyback: %s pays %s %d for %s", seller.ID, bidder.ID, total, a.Card.Animal)
	settle(s)
	return nil
}

// EligibleBidders lists players other than the auctioneer who hold money
// worth more than nothing.
func EligibleBidders(s *engine.State) []string {
	if s.Auction == nil {
		return nil
	}
	var out []string
	for i := range s.Players {
		p := &s.Players[i]
		if p.ID == s.Auction.AuctioneerID {
			continue
		}
		if engine.SpendableTotal(p) > 0 {
			out = append(out, p.ID)
		}
	}
	return out
}

func bidding(s *engine.State) (*engine.Auction, error) {
	if s.Phase != engine.PhaseAuctionBidding {
		return nil, engine.ErrWrongPhase
	}
	if s.Auction == nil {
		return nil, ErrNoAuction
	}
	return s.Auction, nil
}

func closeBidding(s *engine.State) {
	s.Auction.Closed = true
	s.Phase = engine.PhaseAuctionClosing
}

// settle ends the turn. The caller runs engine.FinishTurn afterwards.
func settle(s *engine.State) {
	s.Discard = append(s.Discard, s.Auction.Card)
	s.Auction = nil
	s.Phase = engine.PhaseTurnEnd
}
