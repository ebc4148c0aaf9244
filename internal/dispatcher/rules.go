package dispatcher

import (
	"slices"

	"github.com/DoyleJ11/kuhhandel/internal/auction"
	"github.com/DoyleJ11/kuhhandel/internal/cowtrade"
	"github.com/DoyleJ11/kuhhandel/internal/engine"
	"github.com/DoyleJ11/kuhhandel/internal/protocol"
)

// rule says when an action may run, who may send it and what it does.
type rule struct {
	phases []engine.Phase
	permit func(s *engine.State, sender string) bool
	apply  func(s *engine.State, env protocol.Envelope, receivedAt int64) error
}

func (r rule) allowedIn(p engine.Phase) bool {
	return slices.Contains(r.phases, p)
}

func isHost(s *engine.State, sender string) bool { return sender == s.HostID }

func isTurnOwner(s *engine.State, sender string) bool { return sender == s.TurnOwnerID }

func isSeated(s *engine.State, sender string) bool {
	_, err := s.Player(sender)
	return err == nil
}

func isAuctioneer(s *engine.State, sender string) bool {
	return s.Auction != nil && sender == s.Auction.AuctioneerID
}

func isCowParticipant(s *engine.State, sender string) bool {
	return s.Cow != nil && (sender == s.Cow.InitiatorID || sender == s.Cow.TargetID)
}

func sendersMoney(env protocol.Envelope) ([]string, error) {
	var p protocol.MoneyAction
	if err := protocol.DecodePayload(env, &p); err != nil {
		return nil, err
	}
	return p.MoneyCardIDs, nil
}

var rules = map[protocol.Type]rule{
	protocol.ActionStartGame: {
		phases: []engine.Phase{engine.PhaseSetup},
		permit: isHost,
		apply: func(s *engine.State, _ protocol.Envelope, _ int64) error {
			return engine.StartGame(s)
		},
	},
	protocol.ActionChooseAuction: {
		phases: []engine.Phase{engine.PhaseTurnChoice},
		permit: isTurnOwner,
		apply: func(s *engine.State, _ protocol.Envelope, _ int64) error {
			return auction.EnterBidding(s)
		},
	},
	protocol.ActionPlaceBid: {
		phases: []engine.Phase{engine.PhaseAuctionBidding},
		permit: isSeated,
		apply: func(s *engine.State, env protocol.Envelope, at int64) error {
			ids, err := sendersMoney(env)
			if err != nil {
				return err
			}
			return auction.PlaceBid(s, env.SenderID, ids, *env.ActionID, at)
		},
	},
	protocol.ActionPassBid: {
		phases: []engine.Phase{engine.PhaseAuctionBidding},
		permit: isSeated,
		apply: func(s *engine.State, env protocol.Envelope, _ int64) error {
			return auction.Pass(s, env.SenderID)
		},
	},
	protocol.ActionHostAward: {
		phases: []engine.Phase{engine.PhaseAuctionClosing, engine.PhaseAuctionBuyback},
		permit: isAuctioneer,
		apply: func(s *engine.State, _ protocol.Envelope, _ int64) error {
			return auction.Award(s)
		},
	},
	protocol.ActionHostBuyback: {
		phases: []engine.Phase{engine.PhaseAuctionClosing},
		permit: isAuctioneer,
		apply: func(s *engine.State, _ protocol.Envelope, _ int64) error {
			return auction.StartBuyback(s)
		},
	},
	protocol.ActionPayBuyback: {
		phases: []engine.Phase{engine.PhaseAuctionBuyback},
		permit: isAuctioneer,
		apply: func(s *engine.State, env protocol.Envelope, _ int64) error {
			ids, err := sendersMoney(env)
			if err != nil {
				return err
			}
			return auction.PayBuyback(s, ids)
		},
	},
	protocol.ActionChooseCowTrade: {
		phases: []engine.Phase{engine.PhaseTurnChoice},
		permit: isTurnOwner,
		apply: func(s *engine.State, _ protocol.Envelope, _ int64) error {
			return cowtrade.Start(s)
		},
	},
	protocol.ActionSelectCowTarget: {
		phases: []engine.Phase{engine.PhaseCowSelectTarget},
		permit: isTurnOwner,
		apply: func(s *engine.State, env protocol.Envelope, _ int64) error {
			var p protocol.SelectCowTarget
			if err := protocol.DecodePayload(env, &p); err != nil {
				return err
			}
			return cowtrade.SelectTarget(s, p.TargetID)
		},
	},
	protocol.ActionSelectCowAnimal: {
		phases: []engine.Phase{engine.PhaseCowSelectAnimal},
		permit: isTurnOwner,
		apply: func(s *engine.State, env protocol.Envelope, _ int64) error {
			var p protocol.SelectCowAnimal
			if err := protocol.DecodePayload(env, &p); err != nil {
				return err
			}
			return cowtrade.SelectAnimal(s, engine.Animal(p.Animal))
		},
	},
	protocol.ActionCancelCowTrade: {
		phases: []engine.Phase{engine.PhaseCowSelectTarget, engine.PhaseCowSelectAnimal},
		permit: isTurnOwner,
		apply: func(s *engine.State, _ protocol.Envelope, _ int64) error {
			return cowtrade.Cancel(s)
		},
	},
	protocol.ActionCommitCowTrade: {
		phases: []engine.Phase{engine.PhaseCowCommit},
		permit: isCowParticipant,
		apply: func(s *engine.State, env protocol.Envelope, _ int64) error {
			ids, err := sendersMoney(env)
			if err != nil {
				return err
			}
			return cowtrade.Commit(s, env.SenderID, ids)
		},
	},
	protocol.ActionRevealCowTrade: {
		phases: []engine.Phase{engine.PhaseCowCommit, engine.PhaseCowReveal},
		permit: isHost,
		apply: func(s *engine.State, _ protocol.Envelope, _ int64) error {
			_, err := cowtrade.RevealAndResolve(s)
			return err
		},
	},
}
