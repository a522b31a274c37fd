package analysis

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"inkstudio/pkg/domain"
	"inkstudio/pkg/plan"
)

// MockEngine produces deterministic pseudo-analysis: scores are seeded from
// the manuscript id so repeated runs on the same manuscript agree, and the
// word count is truncated at the plan ceiling before scoring.
type MockEngine struct {
	Delay time.Duration
}

// NewMockEngine constructs the engine with a short simulated latency.
func NewMockEngine() *MockEngine {
	return &MockEngine{Delay: 2 * time.Second}
}

var suggestionPool = []string{
	"Tighten the opening chapters; the inciting incident lands late.",
	"The midpoint sags: consider cutting or merging two subplots.",
	"Secondary characters blur together; give each one opposing wants.",
	"Dialogue carries too much exposition in the second act.",
	"The theme surfaces only in the finale; seed it earlier.",
	"Chapter lengths swing widely; smooth the pacing rhythm.",
	"The antagonist's motivation needs one concrete scene.",
	"Several scenes end without a turn; raise the stakes per scene.",
}

// Analyze waits out the simulated processing time, honoring cancellation,
// then assembles a report. Score dimensions are computed concurrently.
func (e *MockEngine) Analyze(ctx context.Context, m domain.Manuscript, p plan.Plan) (domain.AnalysisReport, error) {
	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return domain.AnalysisReport{}, ctx.Err()
		case <-time.After(e.Delay):
		}
	}

	words := m.WordCount
	if p.WordLimit > 0 && words > p.WordLimit {
		words = p.WordLimit
	}
	seed := seedFor(m.ID, words)

	var pacing, character, dialogue, theme int
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range []*int{&pacing, &character, &dialogue, &theme} {
		i, target := i, target
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			*target = scoreDimension(seed, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.AnalysisReport{}, err
	}

	report := domain.AnalysisReport{
		ID:           uuid.NewString(),
		ManuscriptID: m.ID,
		Pacing:       pacing,
		Character:    character,
		Dialogue:     dialogue,
		Theme:        theme,
		Overall:      (pacing + character + dialogue + theme) / 4,
		CreatedAt:    time.Now().UTC(),
	}
	report.RevisionItems = buildRoadmap(seed)
	return report, nil
}

func seedFor(id string, words int) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64()) ^ int64(words)
}

func scoreDimension(seed int64, dim int) int {
	rng := rand.New(rand.NewSource(seed + int64(dim)*7919))
	return 55 + rng.Intn(41) // 55..95
}

func buildRoadmap(seed int64) []domain.RevisionItem {
	rng := rand.New(rand.NewSource(seed))
	levels := []domain.ImpactLevel{domain.ImpactLow, domain.ImpactMedium, domain.ImpactHigh}
	perm := rng.Perm(len(suggestionPool))
	items := make([]domain.RevisionItem, len(perm))
	for i, idx := range perm {
		items[i] = domain.RevisionItem{
			Priority:   i + 1,
			Impact:     levels[rng.Intn(len(levels))],
			Effort:     levels[rng.Intn(len(levels))],
			Suggestion: suggestionPool[idx],
		}
	}
	return items
}
