// Package lifecycle implements the manuscript state machine:
// awaiting-wisdom -> under-scrutiny -> insights-unveiled, with re-analysis
// looping back to under-scrutiny and delete permitted from any state.
package lifecycle

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"inkstudio/internal/util"
	"inkstudio/pkg/domain"
	"inkstudio/pkg/plan"
	"inkstudio/pkg/store"
)

const (
	// MaxFileBytes is the upload size ceiling.
	MaxFileBytes int64 = 25 << 20
	// ShareTokenTTL is how long a freshly issued report link stays valid.
	ShareTokenTTL = 7 * 24 * time.Hour
)

var allowedFormats = map[string]struct{}{
	".docx": {},
	".doc":  {},
	".pdf":  {},
	".txt":  {},
	".rtf":  {},
	".odt":  {},
}

// FormatAllowed reports whether the filename extension is in the whitelist.
func FormatAllowed(filename string) bool {
	_, ok := allowedFormats[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// CreateInput carries everything needed to mint a manuscript record.
type CreateInput struct {
	Title             string
	Author            string
	Email             string
	Genre             string
	PublicationStatus string
	Filename          string
	SizeBytes         int64
	WordCount         int
	StorageKey        string
}

// Machine serializes lifecycle transitions per manuscript. At most one
// transition may be in flight for a record; a second request is rejected
// with ErrConcurrentTransition instead of being queued.
type Machine struct {
	store  store.Store
	tokens store.ReportTokenStore
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New constructs a machine over the given stores.
func New(s store.Store, tokens store.ReportTokenStore) *Machine {
	return &Machine{
		store:    s,
		tokens:   tokens,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// WithClock overrides the machine clock; used in tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

func (m *Machine) acquire(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return ErrConcurrentTransition
	}
	m.inflight[id] = struct{}{}
	return nil
}

func (m *Machine) release(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// Create validates the upload and mints a record in awaiting-wisdom. On
// validation failure no record is created.
func (m *Machine) Create(in CreateInput) (domain.Manuscript, error) {
	if !FormatAllowed(in.Filename) {
		return domain.Manuscript{}, fmt.Errorf("%w: %s", ErrInvalidFile, filepath.Ext(in.Filename))
	}
	if in.SizeBytes > MaxFileBytes {
		return domain.Manuscript{}, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, in.SizeBytes)
	}
	now := m.now()
	ms := domain.Manuscript{
		ID:                util.NewID(),
		Title:             strings.TrimSpace(in.Title),
		Author:            strings.TrimSpace(in.Author),
		Email:             strings.TrimSpace(in.Email),
		Genre:             in.Genre,
		PublicationStatus: in.PublicationStatus,
		WordCount:         in.WordCount,
		Status:            domain.StatusAwaitingWisdom,
		UploadedAt:        now,
		FileSizeBytes:     in.SizeBytes,
		FileFormat:        strings.ToLower(filepath.Ext(in.Filename)),
		StorageKey:        in.StorageKey,
		UpdatedAt:         now,
	}
	if ms.Title == "" {
		ms.Title = titleFromFilename(in.Filename)
	}
	if err := m.store.SaveManuscript(ms); err != nil {
		return domain.Manuscript{}, fmt.Errorf("save manuscript: %w", err)
	}
	return ms, nil
}

// BeginAnalysis moves awaiting-wisdom to under-scrutiny and locks the plan.
func (m *Machine) BeginAnalysis(id string, planID domain.PlanID) (domain.Manuscript, error) {
	if _, ok := plan.Lookup(planID); !ok {
		return domain.Manuscript{}, ErrUnknownPlan
	}
	if err := m.acquire(id); err != nil {
		return domain.Manuscript{}, err
	}
	defer m.release(id)

	ms, err := m.load(id)
	if err != nil {
		return domain.Manuscript{}, err
	}
	if ms.Status != domain.StatusAwaitingWisdom {
		return domain.Manuscript{}, fmt.Errorf("%w: beginAnalysis from %s", ErrInvalidState, ms.Status)
	}
	ms.Status = domain.StatusUnderScrutiny
	ms.PlanID = planID
	ms.ErrorMessage = ""
	ms.UpdatedAt = m.now()
	if err := m.store.SaveManuscript(ms); err != nil {
		return domain.Manuscript{}, fmt.Errorf("save manuscript: %w", err)
	}
	return ms, nil
}

// CompleteAnalysis moves under-scrutiny to insights-unveiled, attaches the
// report, stamps LastAnalyzed and issues a fresh share token. Any report from
// a previous run is replaced.
func (m *Machine) CompleteAnalysis(id string, report domain.AnalysisReport) (domain.Manuscript, string, error) {
	if err := m.acquire(id); err != nil {
		return domain.Manuscript{}, "", err
	}
	defer m.release(id)

	ms, err := m.load(id)
	if err != nil {
		return domain.Manuscript{}, "", err
	}
	if ms.Status != domain.StatusUnderScrutiny {
		return domain.Manuscript{}, "", fmt.Errorf("%w: completeAnalysis from %s", ErrInvalidState, ms.Status)
	}
	report.ManuscriptID = id
	if report.CreatedAt.IsZero() {
		report.CreatedAt = m.now()
	}
	if err := m.store.DeleteReportByManuscript(id); err != nil {
		return domain.Manuscript{}, "", fmt.Errorf("replace report: %w", err)
	}
	if err := m.store.SaveReport(report); err != nil {
		return domain.Manuscript{}, "", fmt.Errorf("save report: %w", err)
	}
	now := m.now()
	ms.Status = domain.StatusInsightsUnveiled
	ms.AnalysisID = report.ID
	ms.LastAnalyzed = &now
	ms.ErrorMessage = ""
	ms.UpdatedAt = now
	if err := m.store.SaveManuscript(ms); err != nil {
		return domain.Manuscript{}, "", fmt.Errorf("save manuscript: %w", err)
	}
	token, _, err := m.tokens.Issue(report.ID, ShareTokenTTL)
	if err != nil {
		return domain.Manuscript{}, "", fmt.Errorf("issue share token: %w", err)
	}
	return ms, token, nil
}

// FailAnalysis reverts under-scrutiny to awaiting-wisdom and records the
// cause. LastAnalyzed is only ever stamped by successful completion.
func (m *Machine) FailAnalysis(id, cause string) (domain.Manuscript, error) {
	if err := m.acquire(id); err != nil {
		return domain.Manuscript{}, err
	}
	defer m.release(id)

	ms, err := m.load(id)
	if err != nil {
		return domain.Manuscript{}, err
	}
	if ms.Status != domain.StatusUnderScrutiny {
		return domain.Manuscript{}, fmt.Errorf("%w: failAnalysis from %s", ErrInvalidState, ms.Status)
	}
	ms.Status = domain.StatusAwaitingWisdom
	ms.ErrorMessage = cause
	ms.UpdatedAt = m.now()
	if err := m.store.SaveManuscript(ms); err != nil {
		return domain.Manuscript{}, fmt.Errorf("save manuscript: %w", err)
	}
	return ms, nil
}

// Reanalyze moves insights-unveiled back to under-scrutiny when the locked
// plan still has re-analysis quota. The share token is revoked and the
// analysis fields are cleared so the status invariant holds while the new
// run is in flight; the stored report is replaced on completion.
func (m *Machine) Reanalyze(id string) (domain.Manuscript, error) {
	if err := m.acquire(id); err != nil {
		return domain.Manuscript{}, err
	}
	defer m.release(id)

	ms, err := m.load(id)
	if err != nil {
		return domain.Manuscript{}, err
	}
	if ms.Status != domain.StatusInsightsUnveiled {
		return domain.Manuscript{}, fmt.Errorf("%w: reanalyze from %s", ErrInvalidState, ms.Status)
	}
	p, ok := plan.Lookup(ms.PlanID)
	if !ok {
		return domain.Manuscript{}, ErrUnknownPlan
	}
	if !plan.AllowReanalysis(p, ms.ReanalysesUsed) {
		return domain.Manuscript{}, fmt.Errorf("%w: re-analysis on %s plan", ErrPlanLimit, p.ID)
	}
	if ms.AnalysisID != "" {
		if err := m.tokens.Revoke(ms.AnalysisID); err != nil {
			return domain.Manuscript{}, fmt.Errorf("revoke share token: %w", err)
		}
	}
	ms.Status = domain.StatusUnderScrutiny
	ms.AnalysisID = ""
	ms.LastAnalyzed = nil
	ms.ReanalysesUsed++
	ms.UpdatedAt = m.now()
	if err := m.store.SaveManuscript(ms); err != nil {
		return domain.Manuscript{}, fmt.Errorf("save manuscript: %w", err)
	}
	return ms, nil
}

// Delete removes the record, its report and its share token. Deleting an
// unknown id is a no-op so callers can retry safely.
func (m *Machine) Delete(id string) error {
	if err := m.acquire(id); err != nil {
		return err
	}
	defer m.release(id)

	ms, ok, err := m.store.GetManuscript(id)
	if err != nil {
		return fmt.Errorf("get manuscript: %w", err)
	}
	if ok && ms.AnalysisID != "" {
		if err := m.tokens.Revoke(ms.AnalysisID); err != nil {
			return fmt.Errorf("revoke share token: %w", err)
		}
	}
	if err := m.store.DeleteManuscript(id); err != nil {
		return fmt.Errorf("delete manuscript: %w", err)
	}
	return nil
}

func (m *Machine) load(id string) (domain.Manuscript, error) {
	ms, ok, err := m.store.GetManuscript(id)
	if err != nil {
		return domain.Manuscript{}, fmt.Errorf("get manuscript: %w", err)
	}
	if !ok {
		return domain.Manuscript{}, ErrManuscriptNotFound
	}
	return ms, nil
}

func titleFromFilename(name string) string {
	base := filepath.Base(name)
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "" {
		return "Untitled Manuscript"
	}
	return title
}
