package lifecycle

import (
	"errors"
	"sync"
	"testing"

	"inkstudio/pkg/domain"
	"inkstudio/pkg/store"
)

func newTestMachine() (*Machine, *store.MemoryStore, *store.MemoryReportTokenStore) {
	s := store.NewMemoryStore()
	tokens := store.NewMemoryReportTokenStore()
	return New(s, tokens), s, tokens
}

func createManuscript(t *testing.T, m *Machine) domain.Manuscript {
	t.Helper()
	ms, err := m.Create(CreateInput{
		Title:     "The Quiet Orchard",
		Author:    "Elena Rodriguez",
		Filename:  "orchard.docx",
		SizeBytes: 1 << 20,
		WordCount: 48_000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return ms
}

func TestCreateRejectsBadUploads(t *testing.T) {
	m, s, _ := newTestMachine()

	if _, err := m.Create(CreateInput{Filename: "notes.epub", SizeBytes: 100}); !errors.Is(err, ErrInvalidFile) {
		t.Fatalf("expected invalid file, got: %v", err)
	}
	if _, err := m.Create(CreateInput{Filename: "big.pdf", SizeBytes: MaxFileBytes + 1}); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected too large, got: %v", err)
	}
	// No record is created on validation failure.
	all, _ := s.ListManuscripts()
	if len(all) != 0 {
		t.Fatalf("expected empty store, got %d records", len(all))
	}
}

func TestCreateDerivesTitleFromFilename(t *testing.T) {
	m, _, _ := newTestMachine()
	ms, err := m.Create(CreateInput{Filename: "winter-draft.txt", SizeBytes: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ms.Title != "winter-draft" {
		t.Fatalf("unexpected derived title: %q", ms.Title)
	}
	if ms.Status != domain.StatusAwaitingWisdom {
		t.Fatalf("new records start awaiting-wisdom, got %s", ms.Status)
	}
}

func TestHappyPathTransitions(t *testing.T) {
	m, _, tokens := newTestMachine()
	ms := createManuscript(t, m)

	ms, err := m.BeginAnalysis(ms.ID, domain.PlanPro)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if ms.Status != domain.StatusUnderScrutiny || ms.PlanID != domain.PlanPro {
		t.Fatalf("unexpected state after begin: %+v", ms)
	}

	report := domain.AnalysisReport{ID: "rep-1", Overall: 82}
	ms, token, err := m.CompleteAnalysis(ms.ID, report)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ms.Status != domain.StatusInsightsUnveiled {
		t.Fatalf("expected insights-unveiled, got %s", ms.Status)
	}
	if ms.AnalysisID != "rep-1" || ms.LastAnalyzed == nil {
		t.Fatalf("analysis fields must be set on completion: %+v", ms)
	}
	if reportID, _, err := tokens.Resolve(token); err != nil || reportID != "rep-1" {
		t.Fatalf("token should resolve to the new report: %v", err)
	}
}

func TestSkippingScrutinyFails(t *testing.T) {
	m, _, _ := newTestMachine()
	ms := createManuscript(t, m)

	// awaiting-wisdom directly to insights-unveiled is not a legal move.
	if _, _, err := m.CompleteAnalysis(ms.ID, domain.AnalysisReport{ID: "rep-x"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got: %v", err)
	}
	// Double begin is also rejected.
	if _, err := m.BeginAnalysis(ms.ID, domain.PlanFree); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := m.BeginAnalysis(ms.ID, domain.PlanFree); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on second begin, got: %v", err)
	}
}

func TestFailAnalysisRevertsToAwaiting(t *testing.T) {
	m, _, _ := newTestMachine()
	ms := createManuscript(t, m)

	if _, err := m.BeginAnalysis(ms.ID, domain.PlanFree); err != nil {
		t.Fatalf("begin: %v", err)
	}
	ms, err := m.FailAnalysis(ms.ID, "engine unavailable")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if ms.Status != domain.StatusAwaitingWisdom {
		t.Fatalf("failed analysis reverts to awaiting-wisdom, got %s", ms.Status)
	}
	if ms.ErrorMessage != "engine unavailable" {
		t.Fatalf("cause not recorded: %+v", ms)
	}
	if ms.LastAnalyzed != nil {
		t.Fatalf("LastAnalyzed only stamps on success")
	}
}

func TestReanalyzePlanGates(t *testing.T) {
	m, _, _ := newTestMachine()

	runToCompletion := func(planID domain.PlanID) domain.Manuscript {
		ms := createManuscript(t, m)
		if _, err := m.BeginAnalysis(ms.ID, planID); err != nil {
			t.Fatalf("begin: %v", err)
		}
		ms, _, err := m.CompleteAnalysis(ms.ID, domain.AnalysisReport{ID: "rep-" + ms.ID})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		return ms
	}

	free := runToCompletion(domain.PlanFree)
	if _, err := m.Reanalyze(free.ID); !errors.Is(err, ErrPlanLimit) {
		t.Fatalf("free plan re-analysis should hit plan limit, got: %v", err)
	}
	got, _, _ := m.store.GetManuscript(free.ID)
	if got.Status != domain.StatusInsightsUnveiled {
		t.Fatalf("status must be unchanged after rejected re-analysis, got %s", got.Status)
	}

	pro := runToCompletion(domain.PlanPro)
	ms, err := m.Reanalyze(pro.ID)
	if err != nil {
		t.Fatalf("pro re-analysis: %v", err)
	}
	if ms.Status != domain.StatusUnderScrutiny || ms.AnalysisID != "" || ms.LastAnalyzed != nil {
		t.Fatalf("re-analysis must clear analysis fields: %+v", ms)
	}
	if _, _, err := m.CompleteAnalysis(pro.ID, domain.AnalysisReport{ID: "rep-2"}); err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if _, err := m.Reanalyze(pro.ID); !errors.Is(err, ErrPlanLimit) {
		t.Fatalf("pro plan allows a single re-analysis, got: %v", err)
	}
}

func TestReanalyzeRevokesShareToken(t *testing.T) {
	m, _, tokens := newTestMachine()
	ms := createManuscript(t, m)
	if _, err := m.BeginAnalysis(ms.ID, domain.PlanPremium); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, token, err := m.CompleteAnalysis(ms.ID, domain.AnalysisReport{ID: "rep-1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := m.Reanalyze(ms.ID); err != nil {
		t.Fatalf("reanalyze: %v", err)
	}
	if _, _, err := tokens.Resolve(token); !errors.Is(err, store.ErrTokenNotFound) {
		t.Fatalf("expected token revoked by re-analysis, got: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	m, s, _ := newTestMachine()
	ms := createManuscript(t, m)

	if err := m.Delete(ms.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Delete(ms.ID); err != nil {
		t.Fatalf("second delete must be a no-op: %v", err)
	}
	all, _ := s.ListManuscripts()
	if len(all) != 0 {
		t.Fatalf("expected empty collection, got %d", len(all))
	}
}

func TestConcurrentBeginAnalysis(t *testing.T) {
	m, _, _ := newTestMachine()
	ms := createManuscript(t, m)

	const workers = 2
	start := make(chan struct{})
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := m.BeginAnalysis(ms.ID, domain.PlanPro)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	successes, rejected := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConcurrentTransition), errors.Is(err, ErrInvalidState):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || rejected != 1 {
		t.Fatalf("expected one success and one rejection, got successes=%d rejected=%d", successes, rejected)
	}
}

func TestAnalyzedInvariant(t *testing.T) {
	m, s, _ := newTestMachine()
	ms := createManuscript(t, m)

	check := func() {
		t.Helper()
		got, _, _ := s.GetManuscript(ms.ID)
		hasFields := got.AnalysisID != "" && got.LastAnalyzed != nil
		if got.Analyzed() != hasFields {
			t.Fatalf("invariant broken: status=%s analysisId=%q lastAnalyzed=%v", got.Status, got.AnalysisID, got.LastAnalyzed)
		}
	}

	check()
	if _, err := m.BeginAnalysis(ms.ID, domain.PlanPremium); err != nil {
		t.Fatalf("begin: %v", err)
	}
	check()
	if _, _, err := m.CompleteAnalysis(ms.ID, domain.AnalysisReport{ID: "rep-1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	check()
	if _, err := m.Reanalyze(ms.ID); err != nil {
		t.Fatalf("reanalyze: %v", err)
	}
	check()
}
