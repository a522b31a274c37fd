// Package session implements the upload wizard: a linear step machine from
// file selection through payment to analysis completion. Steps validate their
// own inputs before advancing; backward navigation keeps validated fields.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"inkstudio/internal/util"
	"inkstudio/pkg/domain"
	"inkstudio/pkg/intake"
	"inkstudio/pkg/payment"
	"inkstudio/pkg/plan"
)

// Step names one wizard position.
type Step string

const (
	StepFileSelect Step = "file-select"
	StepDetails    Step = "details"
	StepPlanSelect Step = "plan-select"
	StepPayment    Step = "payment"
	StepProcessing Step = "processing"
	StepDone       Step = "done"
)

var stepOrder = map[Step]int{
	StepFileSelect: 0,
	StepDetails:    1,
	StepPlanSelect: 2,
	StepPayment:    3,
	StepProcessing: 4,
	StepDone:       5,
}

var (
	// ErrStepOrder indicates an operation that does not match the current step.
	ErrStepOrder = errors.New("operation not valid for current wizard step")
	// ErrInvalidDetails indicates missing or malformed manuscript details.
	ErrInvalidDetails = errors.New("invalid manuscript details")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// FileInfo is what the file-select step retains from intake.
type FileInfo struct {
	Filename  string           `json:"filename"`
	WordCount int              `json:"wordCount"`
	SizeBytes int64            `json:"sizeBytes"`
	Format    string           `json:"format"`
	Preflight intake.Preflight `json:"preflight"`
}

// Details holds the user-editable manuscript metadata.
type Details struct {
	AuthorName        string `json:"authorName"`
	ManuscriptTitle   string `json:"manuscriptTitle"`
	Email             string `json:"email"`
	Genre             string `json:"genre"`
	PublicationStatus string `json:"publicationStatus"`
	WordCount         int    `json:"wordCount"`
}

// Session is one upload-to-analysis flow. All methods are safe for
// concurrent use.
type Session struct {
	ID string

	mu           sync.Mutex
	step         Step
	file         FileInfo
	details      Details
	plan         plan.Plan
	planChosen   bool
	warning      string
	manuscriptID string
	transaction  domain.Transaction
	cancel       context.CancelFunc
}

// NewSession starts a wizard at file-select.
func NewSession() *Session {
	return &Session{ID: util.NewID(), step: StepFileSelect}
}

// Step returns the current position.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Snapshot returns the retained inputs for rendering.
func (s *Session) Snapshot() (FileInfo, Details, plan.Plan, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file, s.details, s.plan, s.warning
}

// ManuscriptID returns the record minted at file-select.
func (s *Session) ManuscriptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manuscriptID
}

// SetFile records a validated upload and advances to details. The word count
// and a title derived from the filename pre-fill the details step but stay
// user-editable.
func (s *Session) SetFile(res intake.ParseResult, filename, manuscriptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepFileSelect {
		return fmt.Errorf("%w: set file at %s", ErrStepOrder, s.step)
	}
	if !res.Preflight.Format || !res.Preflight.Size || !res.Preflight.Readability {
		return fmt.Errorf("%w: preflight failed", ErrStepOrder)
	}
	s.file = FileInfo{
		Filename:  filename,
		WordCount: res.WordCount,
		SizeBytes: res.SizeBytes,
		Format:    res.Format,
		Preflight: res.Preflight,
	}
	s.manuscriptID = manuscriptID
	if s.details.WordCount == 0 {
		s.details.WordCount = res.WordCount
	}
	s.step = StepDetails
	return nil
}

// SetDetails validates the metadata step and advances to plan-select.
func (s *Session) SetDetails(d Details) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepDetails {
		return fmt.Errorf("%w: set details at %s", ErrStepOrder, s.step)
	}
	if err := validateDetails(d); err != nil {
		return err
	}
	if d.WordCount == 0 {
		d.WordCount = s.file.WordCount
	}
	s.details = d
	s.step = StepPlanSelect
	return nil
}

func validateDetails(d Details) error {
	if strings.TrimSpace(d.AuthorName) == "" {
		return fmt.Errorf("%w: author name required", ErrInvalidDetails)
	}
	if strings.TrimSpace(d.ManuscriptTitle) == "" {
		return fmt.Errorf("%w: manuscript title required", ErrInvalidDetails)
	}
	if !emailPattern.MatchString(strings.TrimSpace(d.Email)) {
		return fmt.Errorf("%w: invalid email", ErrInvalidDetails)
	}
	if strings.TrimSpace(d.Genre) == "" {
		return fmt.Errorf("%w: genre required", ErrInvalidDetails)
	}
	if strings.TrimSpace(d.PublicationStatus) == "" {
		return fmt.Errorf("%w: publication status required", ErrInvalidDetails)
	}
	return nil
}

// SetPlan records the chosen tier. Word counts over the plan ceiling produce
// a warning, not an error; the engine truncates at the limit. Free plans
// skip the payment step entirely.
func (s *Session) SetPlan(p plan.Plan) (warning string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepPlanSelect {
		return "", fmt.Errorf("%w: set plan at %s", ErrStepOrder, s.step)
	}
	s.plan = p
	s.planChosen = true
	s.warning = ""
	if plan.ExceedsLimit(p, s.details.WordCount) {
		s.warning = fmt.Sprintf("manuscript has %d words; the %s plan analyzes the first %d",
			s.details.WordCount, p.Name, p.WordLimit)
	}
	if p.Paid() {
		s.step = StepPayment
	} else {
		s.step = StepProcessing
	}
	return s.warning, nil
}

// Checkout charges the chosen plan and advances to processing. It must not
// be called for free plans; SetPlan already skipped past payment.
func (s *Session) Checkout(ctx context.Context, proc payment.Processor, billing domain.BillingDetails) (domain.Transaction, error) {
	s.mu.Lock()
	if s.step != StepPayment {
		step := s.step
		s.mu.Unlock()
		return domain.Transaction{}, fmt.Errorf("%w: checkout at %s", ErrStepOrder, step)
	}
	chosen := s.plan
	s.mu.Unlock()

	tx, err := proc.Charge(ctx, chosen, billing)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.mu.Lock()
	s.transaction = tx
	s.step = StepProcessing
	s.mu.Unlock()
	return tx, nil
}

// Process runs the analysis wait. The run function is expected to block
// until the external engine finishes; cancelling the context abandons the
// pending completion without rolling anything back. On success the wizard
// reaches done.
func (s *Session) Process(ctx context.Context, run func(context.Context) error) error {
	s.mu.Lock()
	if s.step != StepProcessing {
		step := s.step
		s.mu.Unlock()
		return fmt.Errorf("%w: process at %s", ErrStepOrder, step)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if err := run(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.step = StepDone
	s.cancel = nil
	s.mu.Unlock()
	return nil
}

// Cancel abandons an in-flight processing wait, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Back rewinds to an earlier step. Processing is terminal-until-complete and
// cannot be left; previously validated fields are kept.
func (s *Session) Back(to Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := stepOrder[to]
	if !ok {
		return fmt.Errorf("%w: unknown step %q", ErrStepOrder, to)
	}
	current := stepOrder[s.step]
	if s.step == StepProcessing || s.step == StepDone {
		return fmt.Errorf("%w: cannot leave %s", ErrStepOrder, s.step)
	}
	if target >= current {
		return fmt.Errorf("%w: %s is not before %s", ErrStepOrder, to, s.step)
	}
	s.step = to
	return nil
}

// Plan returns the chosen plan, when one was selected.
func (s *Session) Plan() (plan.Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan, s.planChosen
}
