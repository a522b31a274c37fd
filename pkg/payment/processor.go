package payment

import (
	"context"
	"errors"

	"inkstudio/pkg/domain"
	"inkstudio/pkg/plan"
)

var (
	// ErrPaymentDeclined indicates the charge was refused by the processor.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrInvalidBilling indicates incomplete billing details.
	ErrInvalidBilling = errors.New("invalid billing details")
)

// Processor is the external payment collaborator. The core only gates the
// under-scrutiny transition on a successful charge for paid plans; retry
// policy belongs to the caller.
type Processor interface {
	Charge(ctx context.Context, p plan.Plan, billing domain.BillingDetails) (domain.Transaction, error)
}
