package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

func TestPaymentMethods(t *testing.T) {
	t.Parallel()

	methods, err := domain.NewPaymentMethods(domain.DefaultPaymentMethods)
	require.NoError(t, err)
	require.Len(t, methods.List(), len(domain.DefaultPaymentMethods))

	require.True(t, methods.IsCrypto("BLOCK_CHAINS"))
	require.False(t, methods.IsCrypto("SEPA"))
	require.False(t, methods.IsCrypto("UNKNOWN"))

	require.NoError(t, methods.ValidateAmount("PAYPAL", 25e10))
	require.ErrorIs(
		t, methods.ValidateAmount("PAYPAL", 25e10+1), domain.ErrInvalidTradeAmount,
	)
	require.ErrorIs(
		t, methods.ValidateAmount("UNKNOWN", 1), domain.ErrUnknownPaymentMethod,
	)
}

func TestFailingNewPaymentMethods(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		methods []domain.PaymentMethod
	}{
		{
			name:    "missing_id",
			methods: []domain.PaymentMethod{{Name: "x", MaxTradeAmount: 1}},
		},
		{
			name: "duplicated_id",
			methods: []domain.PaymentMethod{
				{ID: "X", MaxTradeAmount: 1}, {ID: "X", MaxTradeAmount: 2},
			},
		},
		{
			name:    "missing_limit",
			methods: []domain.PaymentMethod{{ID: "X"}},
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := domain.NewPaymentMethods(tt.methods)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}
