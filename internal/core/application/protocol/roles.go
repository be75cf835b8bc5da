package protocol

import (
	"fmt"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// flow is what a role does for a message or an action: the condition to
// satisfy and the tasks to run.
type flow struct {
	cond      condition
	tasks     []Task
	reprocess bool
}

func newFlow(cond condition, tasks ...Task) *flow {
	return &flow{cond: cond, tasks: tasks}
}

// reprocessable marks the flow as retried on transient failures.
func (f *flow) reprocessable() *flow {
	f.reprocess = true
	return f
}

// roleStrategy maps messages and actions to flows for one of the trade
// roles.
type roleStrategy interface {
	takeOffer(t *domain.Trade) (*flow, error)
	initTradeRequest(
		t *domain.Trade, msg *domain.InitTradeRequest, sender domain.NodeAddress,
	) (*flow, error)
	initMultisigRequest(t *domain.Trade) (*flow, error)
	signContractRequest(t *domain.Trade) (*flow, error)
	signContractResponse(t *domain.Trade) (*flow, error)
	depositRequest(t *domain.Trade) (*flow, error)
	depositResponse(t *domain.Trade) (*flow, error)
	depositsConfirmedMessage(t *domain.Trade) (*flow, error)
	paymentSent(t *domain.Trade) (*flow, error)
	paymentReceived(t *domain.Trade) (*flow, error)
	confirmPaymentSent(t *domain.Trade) (*flow, error)
	confirmPaymentReceived(t *domain.Trade) (*flow, error)
}

func newRoleStrategy(role domain.TradeRole) (roleStrategy, error) {
	switch role {
	case domain.RoleBuyerAsMaker:
		return buyerAsMaker{}, nil
	case domain.RoleBuyerAsTaker:
		return buyerAsTaker{}, nil
	case domain.RoleSellerAsMaker:
		return sellerAsMaker{}, nil
	case domain.RoleSellerAsTaker:
		return sellerAsTaker{}, nil
	case domain.RoleArbitrator:
		return arbitrator{}, nil
	default:
		return nil, domain.NewInvalidArgumentError("unknown trade role %d", role)
	}
}

// Composite roles. Embedded methods are promoted from the shallowest level,
// so maker and taker take precedence over the unsupported defaults.
type (
	buyerAsMaker struct {
		buyer
		maker
	}
	buyerAsTaker struct {
		buyer
		taker
	}
	sellerAsMaker struct {
		seller
		maker
	}
	sellerAsTaker struct {
		seller
		taker
	}
)

var pendingTrade = []domain.State{
	domain.StateArbitratorPublishedDepositTxs,
	domain.StateDepositTxsSeenInNetwork,
	domain.StateDepositTxsConfirmedInBlockchain,
	domain.StateDepositTxsUnlockedInBlockchain,
}

type unsupported struct{}

func errUnsupported(op string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedOperation, op)
}

func (unsupported) takeOffer(*domain.Trade) (*flow, error) {
	return nil, errUnsupported("take offer")
}

func (unsupported) initTradeRequest(
	*domain.Trade, *domain.InitTradeRequest, domain.NodeAddress,
) (*flow, error) {
	return nil, errUnsupported(string(domain.MsgInitTradeRequest))
}

func (unsupported) initMultisigRequest(*domain.Trade) (*flow, error) {
	return nil, errUnsupported(string(domain.MsgInitMultisigRequest))
}

func (unsupported) signContractRequest(*domain.Trade) (*flow, error) {
	return nil, errUnsupported(string(domain.MsgSignContractRequest))
}

func (unsupported) signContractResponse(*domain.Trade) (*flow, error) {
	return nil, errUnsupported(string(domain.MsgSignContractResponse))
}

func (unsupported) depositRequest(*domain.Trade) (*flow, error) {
	return nil, errUnsupported(string(domain.MsgDepositRequest))
}

func (unsupported) depositResponse(*domain.Trade) (*flow, error) {
	return nil, errUnsupported(string(domain.MsgDepositResponse))
}

func (unsupported) depositsConfirmedMessage(*domain.Trade) (*flow, error) {
	return nil, errUnsupported(string(domain.MsgDepositsConfirmed))
}

func (unsupported) paymentSent(*domain.Trade) (*flow, error) {
	return nil, errUnsupported(string(domain.MsgPaymentSent))
}

func (unsupported) paymentReceived(*domain.Trade) (*flow, error) {
	return nil, errUnsupported(string(domain.MsgPaymentReceived))
}

func (unsupported) confirmPaymentSent(*domain.Trade) (*flow, error) {
	return nil, errUnsupported("confirm payment sent")
}

func (unsupported) confirmPaymentReceived(*domain.Trade) (*flow, error) {
	return nil, errUnsupported("confirm payment received")
}

// party holds the flows shared by traders and arbitrator.
type party struct {
	unsupported
}

func (party) initMultisigRequest(*domain.Trade) (*flow, error) {
	return newFlow(
		inPhase(phaseRange(domain.PhaseInit, domain.PhasePaymentReceived)...),
		processMultisig, sendMultisigUpdates, maybeSignContract,
	), nil
}

func (party) signContractRequest(*domain.Trade) (*flow, error) {
	return newFlow(
		inPhase(domain.PhaseInit).from(domain.PeerMaker, domain.PeerTaker),
		recordContractTerms, maybeSignContract,
	), nil
}

func (party) signContractResponse(*domain.Trade) (*flow, error) {
	return newFlow(
		inPhase(phaseRange(domain.PhaseInit, domain.PhaseDepositsUnlocked)...),
		processContractSignature, maybeSignContract,
	), nil
}

// trader holds the flows shared by buyer and seller.
type trader struct {
	party
}

func (trader) initMultisigRequest(*domain.Trade) (*flow, error) {
	return newFlow(
		inPhase(phaseRange(domain.PhaseInit, domain.PhasePaymentReceived)...),
		processMultisig, sendMultisigUpdates, createDepositTx,
		sendSignContractRequest, maybeSignContract, maybeSendDepositRequest,
	), nil
}

func (trader) signContractRequest(*domain.Trade) (*flow, error) {
	return newFlow(
		inPhase(domain.PhaseInit).from(domain.PeerMaker, domain.PeerTaker),
		recordContractTerms, maybeSignContract, maybeSendDepositRequest,
	), nil
}

func (trader) signContractResponse(*domain.Trade) (*flow, error) {
	return newFlow(
		inPhase(phaseRange(domain.PhaseInit, domain.PhaseDepositsUnlocked)...),
		processContractSignature, maybeSignContract, maybeSendDepositRequest,
	), nil
}

func (trader) depositResponse(*domain.Trade) (*flow, error) {
	return newFlow(
		inState(
			domain.StateContractSigned,
			domain.StateSentPublishDepositTxRequest,
			domain.StateSawArrivedPublishDepositTxRequest,
			domain.StateDepositTxsSeenInNetwork,
		).from(domain.PeerArbitrator),
		processDepositResponse,
	), nil
}

type buyer struct {
	trader
}

func (buyer) depositsConfirmedMessage(t *domain.Trade) (*flow, error) {
	return newFlow(
		inPhase(
			phaseRange(domain.PhaseDepositRequested, domain.PhasePaymentReceived)...,
		).from(t.SellerRole(), domain.PeerArbitrator),
		recordDepositsConfirmed, decryptSellerPaymentAccount,
	), nil
}

func (buyer) confirmPaymentSent(t *domain.Trade) (*flow, error) {
	return newFlow(
		inState(domain.StateDepositTxsUnlockedInBlockchain).require(
			readyForPaymentSent,
		),
		setStateTask(domain.StateBuyerConfirmedPaymentSent),
		importPeersMultisigHex, exportMultisigHex, createPayoutTx,
		sendPaymentSent,
	), nil
}

func (buyer) paymentReceived(t *domain.Trade) (*flow, error) {
	return newFlow(
		inState(
			domain.StateBuyerConfirmedPaymentSent,
			domain.StateBuyerSentPaymentSentMsg,
			domain.StateBuyerSawArrivedPaymentSentMsg,
			domain.StateBuyerStoredInMailboxPaymentSentMsg,
			domain.StateBuyerSendFailedPaymentSentMsg,
		).from(t.SellerRole()),
		verifySignedPayoutTx,
		setStateTask(domain.StateBuyerReceivedPaymentReceivedMsg),
		completeTrade,
	).reprocessable(), nil
}

type seller struct {
	trader
}

func (seller) depositsConfirmedMessage(t *domain.Trade) (*flow, error) {
	return newFlow(
		inPhase(
			phaseRange(domain.PhaseDepositRequested, domain.PhasePaymentReceived)...,
		).from(t.BuyerRole(), domain.PeerArbitrator),
		recordDepositsConfirmed,
	), nil
}

func (seller) paymentSent(t *domain.Trade) (*flow, error) {
	states := append(
		append([]domain.State{}, pendingTrade...),
		domain.StateSellerReceivedPaymentSentMsg,
	)
	return newFlow(
		inState(states...).from(t.BuyerRole()),
		processPaymentSent,
		setStateTask(domain.StateSellerReceivedPaymentSentMsg),
	).reprocessable(), nil
}

func (seller) confirmPaymentReceived(*domain.Trade) (*flow, error) {
	return newFlow(
		inState(domain.StateSellerReceivedPaymentSentMsg),
		setStateTask(domain.StateSellerConfirmedPaymentReceipt),
		signAndPublishPayoutTx, exportMultisigHex, sendPaymentReceived,
		completeTrade,
	), nil
}

type maker struct{}

func (maker) initTradeRequest(
	*domain.Trade, *domain.InitTradeRequest, domain.NodeAddress,
) (*flow, error) {
	return newFlow(
		inState(domain.StatePreparation).
			from(domain.PeerTaker, domain.PeerArbitrator).
			require(reserveNotCreated),
		verifyArbitrator, applyInitTradeRequest, prepareTraderTerms,
		reserveFunds, sendInitTradeRequestTo(domain.PeerArbitrator),
	), nil
}

type taker struct{}

func (taker) takeOffer(t *domain.Trade) (*flow, error) {
	// The buyer taker sends the request to the maker, the seller taker to
	// the arbitrator.
	receiver := domain.PeerMaker
	if t.Role.IsSeller() {
		receiver = domain.PeerArbitrator
	}
	return newFlow(
		inState(domain.StatePreparation).require(reserveNotCreated),
		verifyArbitrator, validatePaymentMethod, prepareTraderTerms,
		reserveFunds, sendInitTradeRequestTo(receiver),
	), nil
}

type arbitrator struct {
	party
}

func (arbitrator) initTradeRequest(
	t *domain.Trade, _ *domain.InitTradeRequest, sender domain.NodeAddress,
) (*flow, error) {
	if sender == t.Offer.MakerNodeAddress {
		return newFlow(
			inState(domain.StatePreparation).from(domain.PeerMaker),
			applyInitTradeRequest,
			verifyReserveTxs(domain.PeerMaker, domain.PeerTaker),
			processMultisig, sendMultisigUpdates,
		), nil
	}
	// The seller taker reaches the arbitrator first, the request is relayed
	// to the maker.
	return newFlow(
		inState(domain.StatePreparation).
			from(domain.PeerTaker).
			require(func(t *domain.Trade) error {
				if !t.Taker.ReserveTx.IsEmpty() {
					return fmt.Errorf("trade already initialized")
				}
				return nil
			}),
		applyInitTradeRequest, verifyReserveTxs(domain.PeerTaker),
		sendInitTradeRequestTo(domain.PeerMaker),
	), nil
}

func (arbitrator) depositRequest(*domain.Trade) (*flow, error) {
	return newFlow(
		inState(domain.StateContractSigned).
			from(domain.PeerMaker, domain.PeerTaker),
		processDepositRequest, maybeRelayDepositTxs,
	), nil
}

func (arbitrator) depositsConfirmedMessage(*domain.Trade) (*flow, error) {
	return newFlow(
		inPhase(
			phaseRange(domain.PhaseDepositsPublished, domain.PhasePaymentReceived)...,
		).from(domain.PeerMaker, domain.PeerTaker),
		recordDepositsConfirmed,
	), nil
}

func (arbitrator) paymentSent(t *domain.Trade) (*flow, error) {
	states := append(
		append([]domain.State{}, pendingTrade...),
		domain.StateArbitratorReceivedPaymentSentMsg,
	)
	return newFlow(
		inState(states...).from(t.BuyerRole()),
		recordPaymentSent,
		setStateTask(domain.StateArbitratorReceivedPaymentSentMsg),
	).reprocessable(), nil
}

func (arbitrator) paymentReceived(t *domain.Trade) (*flow, error) {
	states := append(
		append([]domain.State{}, pendingTrade...),
		domain.StateArbitratorReceivedPaymentSentMsg,
	)
	return newFlow(
		inState(states...).from(t.SellerRole()),
		verifySignedPayoutTx,
		setStateTask(domain.StateArbitratorReceivedPaymentReceivedMsg),
		completeTrade,
	).reprocessable(), nil
}

func depositsSeenFlow() *flow {
	return newFlow(
		inState(
			domain.StateSentPublishDepositTxRequest,
			domain.StateSawArrivedPublishDepositTxRequest,
			domain.StateArbitratorPublishedDepositTxs,
		),
		setStateTask(domain.StateDepositTxsSeenInNetwork),
	)
}

func depositsConfirmedFlow() *flow {
	return newFlow(
		inState(
			domain.StateArbitratorPublishedDepositTxs,
			domain.StateDepositTxsSeenInNetwork,
		),
		setStateTask(domain.StateDepositTxsConfirmedInBlockchain),
		exportMultisigHex, sendDepositsConfirmed,
	)
}

func depositsUnlockedFlow() *flow {
	return newFlow(
		inState(domain.StateDepositTxsConfirmedInBlockchain),
		setStateTask(domain.StateDepositTxsUnlockedInBlockchain),
	)
}

func reserveNotCreated(t *domain.Trade) error {
	if !t.Self().ReserveTx.IsEmpty() {
		return fmt.Errorf("funds already reserved")
	}
	return nil
}

func readyForPaymentSent(t *domain.Trade) error {
	seller := t.Seller()
	if seller.UpdatedMultisigHex == "" {
		return fmt.Errorf("missing updated multisig hex of seller")
	}
	if seller.PaymentAccountPayload == nil {
		return fmt.Errorf("missing payment account of seller")
	}
	if seller.SecurityDeposit == 0 || t.Buyer().SecurityDeposit == 0 {
		return fmt.Errorf("missing security deposits")
	}
	return nil
}
