package domain

// Phase is the coarse milestone of a trade. Phases only advance.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseDepositRequested
	PhaseDepositsPublished
	PhaseDepositsConfirmed
	PhaseDepositsUnlocked
	PhasePaymentSent
	PhasePaymentReceived
	PhaseCompleted
)

var phaseToString = map[Phase]string{
	PhaseInit:              "INIT",
	PhaseDepositRequested:  "DEPOSIT_REQUESTED",
	PhaseDepositsPublished: "DEPOSITS_PUBLISHED",
	PhaseDepositsConfirmed: "DEPOSITS_CONFIRMED",
	PhaseDepositsUnlocked:  "DEPOSITS_UNLOCKED",
	PhasePaymentSent:       "PAYMENT_SENT",
	PhasePaymentReceived:   "PAYMENT_RECEIVED",
	PhaseCompleted:         "COMPLETED",
}

func (p Phase) String() string {
	if s, ok := phaseToString[p]; ok {
		return s
	}
	return "UNKNOWN"
}

// State is the fine grained step of a trade. Many states map to the same
// phase, see State.Phase.
type State int

const (
	// PhaseInit
	StatePreparation State = iota
	StateMultisigPrepared
	StateMultisigMade
	StateMultisigExchanged
	StateContractSignatureRequested
	StateContractSigned

	// PhaseDepositRequested
	StateSentPublishDepositTxRequest
	StateSawArrivedPublishDepositTxRequest
	StatePublishDepositTxRequestFailed

	// PhaseDepositsPublished
	StateArbitratorPublishedDepositTxs
	StateDepositTxsSeenInNetwork

	// PhaseDepositsConfirmed
	StateDepositTxsConfirmedInBlockchain

	// PhaseDepositsUnlocked
	StateDepositTxsUnlockedInBlockchain

	// PhasePaymentSent
	StateBuyerConfirmedPaymentSent
	StateBuyerSentPaymentSentMsg
	StateBuyerSawArrivedPaymentSentMsg
	StateBuyerStoredInMailboxPaymentSentMsg
	StateBuyerSendFailedPaymentSentMsg
	StateSellerReceivedPaymentSentMsg
	StateArbitratorReceivedPaymentSentMsg

	// PhasePaymentReceived
	StateSellerConfirmedPaymentReceipt
	StateSellerSentPaymentReceivedMsg
	StateSellerSawArrivedPaymentReceivedMsg
	StateSellerStoredInMailboxPaymentReceivedMsg
	StateSellerSendFailedPaymentReceivedMsg
	StateBuyerReceivedPaymentReceivedMsg
	StateArbitratorReceivedPaymentReceivedMsg

	// PhaseCompleted
	StateTradeCompleted
)

var stateInfo = map[State]struct {
	name  string
	phase Phase
}{
	StatePreparation:                             {"PREPARATION", PhaseInit},
	StateMultisigPrepared:                        {"MULTISIG_PREPARED", PhaseInit},
	StateMultisigMade:                            {"MULTISIG_MADE", PhaseInit},
	StateMultisigExchanged:                       {"MULTISIG_EXCHANGED", PhaseInit},
	StateContractSignatureRequested:              {"CONTRACT_SIGNATURE_REQUESTED", PhaseInit},
	StateContractSigned:                          {"CONTRACT_SIGNED", PhaseInit},
	StateSentPublishDepositTxRequest:             {"SENT_PUBLISH_DEPOSIT_TX_REQUEST", PhaseDepositRequested},
	StateSawArrivedPublishDepositTxRequest:       {"SAW_ARRIVED_PUBLISH_DEPOSIT_TX_REQUEST", PhaseDepositRequested},
	StatePublishDepositTxRequestFailed:           {"PUBLISH_DEPOSIT_TX_REQUEST_FAILED", PhaseDepositRequested},
	StateArbitratorPublishedDepositTxs:           {"ARBITRATOR_PUBLISHED_DEPOSIT_TXS", PhaseDepositsPublished},
	StateDepositTxsSeenInNetwork:                 {"DEPOSIT_TXS_SEEN_IN_NETWORK", PhaseDepositsPublished},
	StateDepositTxsConfirmedInBlockchain:         {"DEPOSIT_TXS_CONFIRMED_IN_BLOCKCHAIN", PhaseDepositsConfirmed},
	StateDepositTxsUnlockedInBlockchain:          {"DEPOSIT_TXS_UNLOCKED_IN_BLOCKCHAIN", PhaseDepositsUnlocked},
	StateBuyerConfirmedPaymentSent:               {"BUYER_CONFIRMED_PAYMENT_SENT", PhasePaymentSent},
	StateBuyerSentPaymentSentMsg:                 {"BUYER_SENT_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateBuyerSawArrivedPaymentSentMsg:           {"BUYER_SAW_ARRIVED_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateBuyerStoredInMailboxPaymentSentMsg:      {"BUYER_STORED_IN_MAILBOX_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateBuyerSendFailedPaymentSentMsg:           {"BUYER_SEND_FAILED_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateSellerReceivedPaymentSentMsg:            {"SELLER_RECEIVED_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateArbitratorReceivedPaymentSentMsg:        {"ARBITRATOR_RECEIVED_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateSellerConfirmedPaymentReceipt:           {"SELLER_CONFIRMED_PAYMENT_RECEIPT", PhasePaymentReceived},
	StateSellerSentPaymentReceivedMsg:            {"SELLER_SENT_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	StateSellerSawArrivedPaymentReceivedMsg:      {"SELLER_SAW_ARRIVED_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	StateSellerStoredInMailboxPaymentReceivedMsg: {"SELLER_STORED_IN_MAILBOX_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	StateSellerSendFailedPaymentReceivedMsg:      {"SELLER_SEND_FAILED_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	StateBuyerReceivedPaymentReceivedMsg:         {"BUYER_RECEIVED_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	StateArbitratorReceivedPaymentReceivedMsg:    {"ARBITRATOR_RECEIVED_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	StateTradeCompleted:                          {"TRADE_COMPLETED", PhaseCompleted},
}

func (s State) String() string {
	if info, ok := stateInfo[s]; ok {
		return info.name
	}
	return "UNKNOWN"
}

// Phase returns the phase the state belongs to.
func (s State) Phase() Phase {
	return stateInfo[s].phase
}

// IsValid returns whether the state is a known one.
func (s State) IsValid() bool {
	_, ok := stateInfo[s]
	return ok
}

// AllStates returns every known state in declaration order.
func AllStates() []State {
	states := make([]State, 0, len(stateInfo))
	for s := StatePreparation; s <= StateTradeCompleted; s++ {
		states = append(states, s)
	}
	return states
}

// allowedTransitions lists, for every state, the states it can move to.
// Moving to the same state is always accepted as a no-op.
var allowedTransitions = map[State][]State{
	StatePreparation: {
		StateMultisigPrepared, StateMultisigMade, StateMultisigExchanged,
	},
	StateMultisigPrepared: {
		StateMultisigMade, StateMultisigExchanged,
	},
	StateMultisigMade: {
		StateMultisigExchanged,
	},
	StateMultisigExchanged: {
		StateContractSignatureRequested, StateContractSigned,
	},
	StateContractSignatureRequested: {
		StateContractSigned,
	},
	StateContractSigned: {
		StateSentPublishDepositTxRequest, StatePublishDepositTxRequestFailed,
		StateArbitratorPublishedDepositTxs,
	},
	StateSentPublishDepositTxRequest: {
		StateSawArrivedPublishDepositTxRequest, StatePublishDepositTxRequestFailed,
		StateArbitratorPublishedDepositTxs, StateDepositTxsSeenInNetwork,
	},
	StateSawArrivedPublishDepositTxRequest: {
		StatePublishDepositTxRequestFailed,
		StateArbitratorPublishedDepositTxs, StateDepositTxsSeenInNetwork,
	},
	StatePublishDepositTxRequestFailed: {},
	StateArbitratorPublishedDepositTxs: {
		StateDepositTxsSeenInNetwork, StateDepositTxsConfirmedInBlockchain,
		StateDepositTxsUnlockedInBlockchain, StateSellerReceivedPaymentSentMsg,
		StateArbitratorReceivedPaymentSentMsg, StateArbitratorReceivedPaymentReceivedMsg,
	},
	StateDepositTxsSeenInNetwork: {
		StateDepositTxsConfirmedInBlockchain, StateDepositTxsUnlockedInBlockchain,
		StateSellerReceivedPaymentSentMsg, StateArbitratorReceivedPaymentSentMsg,
		StateArbitratorReceivedPaymentReceivedMsg,
	},
	StateDepositTxsConfirmedInBlockchain: {
		StateDepositTxsUnlockedInBlockchain, StateSellerReceivedPaymentSentMsg,
		StateArbitratorReceivedPaymentSentMsg, StateArbitratorReceivedPaymentReceivedMsg,
	},
	StateDepositTxsUnlockedInBlockchain: {
		StateBuyerConfirmedPaymentSent, StateSellerReceivedPaymentSentMsg,
		StateArbitratorReceivedPaymentSentMsg, StateArbitratorReceivedPaymentReceivedMsg,
	},
	StateBuyerConfirmedPaymentSent: {
		StateBuyerSentPaymentSentMsg, StateBuyerSendFailedPaymentSentMsg,
	},
	StateBuyerSentPaymentSentMsg: {
		StateBuyerSawArrivedPaymentSentMsg, StateBuyerStoredInMailboxPaymentSentMsg,
		StateBuyerSendFailedPaymentSentMsg, StateBuyerReceivedPaymentReceivedMsg,
	},
	StateBuyerStoredInMailboxPaymentSentMsg: {
		StateBuyerSawArrivedPaymentSentMsg, StateBuyerSentPaymentSentMsg,
		StateBuyerSendFailedPaymentSentMsg, StateBuyerReceivedPaymentReceivedMsg,
	},
	StateBuyerSendFailedPaymentSentMsg: {
		StateBuyerSentPaymentSentMsg, StateBuyerSawArrivedPaymentSentMsg,
		StateBuyerStoredInMailboxPaymentSentMsg, StateBuyerReceivedPaymentReceivedMsg,
	},
	StateBuyerSawArrivedPaymentSentMsg: {
		StateBuyerReceivedPaymentReceivedMsg,
	},
	StateSellerReceivedPaymentSentMsg: {
		StateSellerConfirmedPaymentReceipt,
	},
	StateArbitratorReceivedPaymentSentMsg: {
		StateArbitratorReceivedPaymentReceivedMsg, StateTradeCompleted,
	},
	StateSellerConfirmedPaymentReceipt: {
		StateSellerSentPaymentReceivedMsg, StateSellerSendFailedPaymentReceivedMsg,
		StateTradeCompleted,
	},
	StateSellerSentPaymentReceivedMsg: {
		StateSellerSawArrivedPaymentReceivedMsg, StateSellerStoredInMailboxPaymentReceivedMsg,
		StateSellerSendFailedPaymentReceivedMsg, StateTradeCompleted,
	},
	StateSellerStoredInMailboxPaymentReceivedMsg: {
		StateSellerSawArrivedPaymentReceivedMsg, StateSellerSentPaymentReceivedMsg,
		StateSellerSendFailedPaymentReceivedMsg, StateTradeCompleted,
	},
	StateSellerSendFailedPaymentReceivedMsg: {
		StateSellerSentPaymentReceivedMsg, StateSellerSawArrivedPaymentReceivedMsg,
		StateSellerStoredInMailboxPaymentReceivedMsg, StateTradeCompleted,
	},
	StateSellerSawArrivedPaymentReceivedMsg: {
		StateTradeCompleted,
	},
	StateBuyerReceivedPaymentReceivedMsg: {
		StateTradeCompleted,
	},
	StateArbitratorReceivedPaymentReceivedMsg: {
		StateTradeCompleted,
	},
	StateTradeCompleted: {},
}

// CanTransition returns whether a trade can move from the current state to
// the next one. Transitions never make the phase regress.
func CanTransition(current, next State) bool {
	if current == next {
		return true
	}
	if !current.IsValid() || !next.IsValid() {
		return false
	}
	if next.Phase() < current.Phase() {
		return false
	}
	for _, s := range allowedTransitions[current] {
		if s == next {
			return true
		}
	}
	return false
}
