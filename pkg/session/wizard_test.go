package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"inkstudio/pkg/domain"
	"inkstudio/pkg/intake"
	"inkstudio/pkg/payment"
	"inkstudio/pkg/plan"
)

func passedFile() intake.ParseResult {
	return intake.ParseResult{
		WordCount: 48_000,
		Format:    ".docx",
		SizeBytes: 1 << 20,
		Preflight: intake.Preflight{Format: true, Size: true, Readability: true},
	}
}

func validDetails() Details {
	return Details{
		AuthorName:        "Elena Rodriguez",
		ManuscriptTitle:   "The Quiet Orchard",
		Email:             "elena@example.com",
		Genre:             "literary",
		PublicationStatus: "unpublished",
	}
}

func advanceToPlan(t *testing.T, s *Session) {
	t.Helper()
	if err := s.SetFile(passedFile(), "orchard.docx", "ms-1"); err != nil {
		t.Fatalf("set file: %v", err)
	}
	if err := s.SetDetails(validDetails()); err != nil {
		t.Fatalf("set details: %v", err)
	}
}

func TestWizardLinearOrder(t *testing.T) {
	s := NewSession()
	if s.Step() != StepFileSelect {
		t.Fatalf("sessions start at file-select, got %s", s.Step())
	}
	if err := s.SetDetails(validDetails()); !errors.Is(err, ErrStepOrder) {
		t.Fatalf("details before file must fail, got: %v", err)
	}
	advanceToPlan(t, s)
	if s.Step() != StepPlanSelect {
		t.Fatalf("expected plan-select, got %s", s.Step())
	}
}

func TestWizardDetailsValidation(t *testing.T) {
	s := NewSession()
	if err := s.SetFile(passedFile(), "orchard.docx", "ms-1"); err != nil {
		t.Fatalf("set file: %v", err)
	}
	cases := map[string]Details{
		"missing author": {ManuscriptTitle: "T", Email: "a@b.co", Genre: "g", PublicationStatus: "p"},
		"missing title":  {AuthorName: "A", Email: "a@b.co", Genre: "g", PublicationStatus: "p"},
		"bad email":      {AuthorName: "A", ManuscriptTitle: "T", Email: "not-an-email", Genre: "g", PublicationStatus: "p"},
		"bad email 2":    {AuthorName: "A", ManuscriptTitle: "T", Email: "a@b", Genre: "g", PublicationStatus: "p"},
		"missing genre":  {AuthorName: "A", ManuscriptTitle: "T", Email: "a@b.co", PublicationStatus: "p"},
	}
	for name, d := range cases {
		if err := s.SetDetails(d); !errors.Is(err, ErrInvalidDetails) {
			t.Fatalf("%s: expected invalid details, got: %v", name, err)
		}
	}
	if err := s.SetDetails(validDetails()); err != nil {
		t.Fatalf("valid details rejected: %v", err)
	}
}

func TestWizardFreePlanSkipsPayment(t *testing.T) {
	s := NewSession()
	advanceToPlan(t, s)

	free, _ := plan.Lookup(domain.PlanFree)
	if _, err := s.SetPlan(free); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if s.Step() != StepProcessing {
		t.Fatalf("free plan should land on processing, got %s", s.Step())
	}

	// And the processor is never touched.
	proc := payment.NewMockProcessor()
	if _, err := s.Checkout(context.Background(), proc, domain.BillingDetails{}); !errors.Is(err, ErrStepOrder) {
		t.Fatalf("checkout on free plan must fail, got: %v", err)
	}
	if proc.Charges() != 0 {
		t.Fatalf("payment processor was invoked %d times for a free plan", proc.Charges())
	}
}

func TestWizardPaidPlanRequiresCheckout(t *testing.T) {
	s := NewSession()
	advanceToPlan(t, s)

	pro, _ := plan.Lookup(domain.PlanPro)
	if _, err := s.SetPlan(pro); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if s.Step() != StepPayment {
		t.Fatalf("paid plan requires payment step, got %s", s.Step())
	}
	proc := payment.NewMockProcessor()
	proc.Latency = 0
	tx, err := s.Checkout(context.Background(), proc, domain.BillingDetails{
		CardholderName: "Elena Rodriguez",
		CardNumber:     "4242424242424242",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if tx.AmountCents != pro.PriceCents {
		t.Fatalf("charged %d, want %d", tx.AmountCents, pro.PriceCents)
	}
	if s.Step() != StepProcessing {
		t.Fatalf("expected processing after checkout, got %s", s.Step())
	}
}

func TestWizardOverLimitWarnsButProceeds(t *testing.T) {
	s := NewSession()
	if err := s.SetFile(passedFile(), "epic.docx", "ms-2"); err != nil {
		t.Fatalf("set file: %v", err)
	}
	d := validDetails()
	d.WordCount = 90_000
	if err := s.SetDetails(d); err != nil {
		t.Fatalf("set details: %v", err)
	}
	free, _ := plan.Lookup(domain.PlanFree)
	warning, err := s.SetPlan(free)
	if err != nil {
		t.Fatalf("over-limit selection must not block: %v", err)
	}
	if warning == "" {
		t.Fatalf("expected an over-limit warning")
	}
}

func TestWizardBackKeepsFields(t *testing.T) {
	s := NewSession()
	advanceToPlan(t, s)

	if err := s.Back(StepDetails); err != nil {
		t.Fatalf("back: %v", err)
	}
	_, details, _, _ := s.Snapshot()
	if details.AuthorName != "Elena Rodriguez" {
		t.Fatalf("validated fields must survive backward navigation: %+v", details)
	}
	if err := s.Back(StepPlanSelect); !errors.Is(err, ErrStepOrder) {
		t.Fatalf("forward jumps via Back must fail, got: %v", err)
	}
}

func TestWizardProcessingIsTerminalUntilComplete(t *testing.T) {
	s := NewSession()
	advanceToPlan(t, s)
	free, _ := plan.Lookup(domain.PlanFree)
	if _, err := s.SetPlan(free); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if err := s.Back(StepDetails); !errors.Is(err, ErrStepOrder) {
		t.Fatalf("back from processing must fail, got: %v", err)
	}
}

func TestWizardProcessCancellation(t *testing.T) {
	s := NewSession()
	advanceToPlan(t, s)
	free, _ := plan.Lookup(domain.PlanFree)
	if _, err := s.SetPlan(free); err != nil {
		t.Fatalf("set plan: %v", err)
	}

	completed := false
	done := make(chan error, 1)
	go func() {
		done <- s.Process(context.Background(), func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Minute):
				completed = true
				return nil
			}
		})
	}()

	// Let the wait start, then abandon it.
	time.Sleep(10 * time.Millisecond)
	s.Cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got: %v", err)
	}
	if completed {
		t.Fatalf("completion must not run after cancellation")
	}
	if s.Step() != StepProcessing {
		t.Fatalf("abandoned session stays at processing, got %s", s.Step())
	}
}

func TestWizardProcessCompletes(t *testing.T) {
	s := NewSession()
	advanceToPlan(t, s)
	free, _ := plan.Lookup(domain.PlanFree)
	if _, err := s.SetPlan(free); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if err := s.Process(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("process: %v", err)
	}
	if s.Step() != StepDone {
		t.Fatalf("expected done, got %s", s.Step())
	}
}

func TestManagerDropCancelsProcessing(t *testing.T) {
	m := NewManager()
	s := m.Start()
	if got, ok := m.Get(s.ID); !ok || got != s {
		t.Fatalf("registry lookup failed")
	}
	m.Drop(s.ID)
	if _, ok := m.Get(s.ID); ok {
		t.Fatalf("dropped session still registered")
	}
}
