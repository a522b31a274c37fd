package payment

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"inkstudio/pkg/domain"
	"inkstudio/pkg/plan"
)

// MockProcessor simulates a payment gateway. Charges succeed unless the card
// number ends in the conventional decline suffix used by gateway sandboxes.
type MockProcessor struct {
	Latency time.Duration
	charges atomic.Int64
}

const declineSuffix = "0002"

// NewMockProcessor constructs the sandbox processor.
func NewMockProcessor() *MockProcessor {
	return &MockProcessor{Latency: 150 * time.Millisecond}
}

// Charges reports how many charge attempts were made; tests use it to prove
// free-plan flows never touch the processor.
func (m *MockProcessor) Charges() int64 {
	return m.charges.Load()
}

// Charge validates billing details and simulates the gateway round trip.
func (m *MockProcessor) Charge(ctx context.Context, p plan.Plan, billing domain.BillingDetails) (domain.Transaction, error) {
	m.charges.Add(1)
	card := strings.ReplaceAll(strings.TrimSpace(billing.CardNumber), " ", "")
	if card == "" || strings.TrimSpace(billing.CardholderName) == "" {
		return domain.Transaction{}, ErrInvalidBilling
	}
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return domain.Transaction{}, ctx.Err()
		case <-time.After(m.Latency):
		}
	}
	if strings.HasSuffix(card, declineSuffix) {
		return domain.Transaction{}, fmt.Errorf("%w: card refused", ErrPaymentDeclined)
	}
	last4 := card
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return domain.Transaction{
		ID:          uuid.NewString(),
		PlanID:      p.ID,
		AmountCents: p.PriceCents,
		CardLast4:   last4,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
