package domain

import (
	"fmt"
	"sort"
	"time"
)

// PaymentMethod describes a way of settling the counter currency leg of a
// trade.
type PaymentMethod struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Crypto         bool          `yaml:"crypto"`
	MaxTradeAmount uint64        `yaml:"max_trade_amount"`
	MaxTradePeriod time.Duration `yaml:"max_trade_period"`
}

const day = 24 * time.Hour

// DefaultPaymentMethods is the built-in payment method table.
var DefaultPaymentMethods = []PaymentMethod{
	{ID: "SEPA", Name: "SEPA", MaxTradeAmount: 2e12, MaxTradePeriod: 6 * day},
	{ID: "SEPA_INSTANT", Name: "SEPA Instant", MaxTradeAmount: 2e12, MaxTradePeriod: day},
	{ID: "ZELLE", Name: "Zelle", MaxTradeAmount: 1e12, MaxTradePeriod: 4 * day},
	{ID: "REVOLUT", Name: "Revolut", MaxTradeAmount: 1e12, MaxTradePeriod: day},
	{ID: "PAYPAL", Name: "PayPal", MaxTradeAmount: 25e10, MaxTradePeriod: day},
	{ID: "CASH_AT_ATM", Name: "Cash at ATM", MaxTradeAmount: 5e11, MaxTradePeriod: day},
	{ID: "BLOCK_CHAINS", Name: "Cryptocurrencies", Crypto: true, MaxTradeAmount: 5e12, MaxTradePeriod: day},
	{ID: "BLOCK_CHAINS_INSTANT", Name: "Cryptocurrencies Instant", Crypto: true, MaxTradeAmount: 5e12, MaxTradePeriod: 2 * time.Hour},
}

// PaymentMethods is an immutable lookup table of payment methods.
type PaymentMethods struct {
	byID map[string]PaymentMethod
}

// NewPaymentMethods returns a table containing the given methods.
func NewPaymentMethods(methods []PaymentMethod) (*PaymentMethods, error) {
	byID := make(map[string]PaymentMethod, len(methods))
	for _, m := range methods {
		if m.ID == "" {
			return nil, NewInvalidArgumentError("payment method without id")
		}
		if _, ok := byID[m.ID]; ok {
			return nil, NewInvalidArgumentError("duplicated payment method %s", m.ID)
		}
		if m.MaxTradeAmount == 0 {
			return nil, NewInvalidArgumentError(
				"payment method %s must define a max trade amount", m.ID,
			)
		}
		byID[m.ID] = m
	}
	return &PaymentMethods{byID}, nil
}

// Get returns the payment method with the given id.
func (p *PaymentMethods) Get(id string) (PaymentMethod, error) {
	m, ok := p.byID[id]
	if !ok {
		return PaymentMethod{}, fmt.Errorf("%w: %s", ErrUnknownPaymentMethod, id)
	}
	return m, nil
}

// List returns all methods sorted by id.
func (p *PaymentMethods) List() []PaymentMethod {
	list := make([]PaymentMethod, 0, len(p.byID))
	for _, m := range p.byID {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// ValidateAmount checks the trade amount against the limit of the method.
func (p *PaymentMethods) ValidateAmount(id string, amount uint64) error {
	m, err := p.Get(id)
	if err != nil {
		return err
	}
	if amount > m.MaxTradeAmount {
		return fmt.Errorf(
			"%w: %d exceeds %s limit of %d",
			ErrInvalidTradeAmount, amount, m.ID, m.MaxTradeAmount,
		)
	}
	return nil
}

// IsCrypto returns whether the method settles in cryptocurrency. Unknown
// methods are treated as traditional ones.
func (p *PaymentMethods) IsCrypto(id string) bool {
	m, ok := p.byID[id]
	return ok && m.Crypto
}
