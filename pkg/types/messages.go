package types

// Every message on the room channel is an envelope:
//   type: string            // "action.*" | "state.update" | "system.*"
//   roomId: string
//   senderId: string
//   actionId?: string       // iff type is action.*
//   stateVersion?: number   // iff type is state.update, equals payload.state.stateVersion
//   ts: number              // epoch ms
//   payload: object
//   schemaVersion: number
//
// Client -> Host (topic "actions")
// action.startGame:       { playerId }
// action.chooseAuction:   { playerId }
// action.placeBid:        { playerId, moneyCardIds: string[] }
// action.passBid:         { playerId }
// action.hostAward:       { playerId }                 // auctioneer only
// action.hostBuyback:     { playerId }                 // auctioneer only
// action.payBuyback:      { playerId, moneyCardIds }   // auctioneer only
// action.chooseCowTrade:  { playerId }
// action.selectCowTarget: { playerId, targetId }
// action.selectCowAnimal: { playerId, animal }
// action.cancelCowTrade:  { playerId }
// action.commitCowTrade:  { playerId, moneyCardIds }   // initiator or target
// action.revealCowTrade:  { playerId }                 // host only
//
// Host -> All (topic "state")
// state.update: { state: StateSnapshot }
//
// Any -> All (topic "system")
// system.join:         { playerId, name }
// system.leave:        { playerId }
// system.hostChanged:  { newHostId }
// system.requestState: { requesterId }
