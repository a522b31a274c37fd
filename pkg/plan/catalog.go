package plan

import (
	"strings"

	"inkstudio/pkg/domain"
)

// Plan describes one pricing tier. Every plan-gated decision in the system
// (word ceilings, chart visibility, roadmap truncation, re-analysis quota)
// consults this table and nothing else.
type Plan struct {
	ID               domain.PlanID `json:"id"`
	Name             string        `json:"name"`
	PriceCents       int           `json:"priceCents"`
	WordLimit        int           `json:"wordLimit"`
	RoadmapItems     int           `json:"roadmapItems"`
	PacingHeatmap    bool          `json:"pacingHeatmap"`
	CharacterNetwork bool          `json:"characterNetwork"`
	ThemeChart       bool          `json:"themeChart"`
	// Reanalyses is the allowed number of re-analysis runs. Negative means
	// unlimited.
	Reanalyses int `json:"reanalyses"`
}

// Paid reports whether starting an analysis on this plan requires a charge.
func (p Plan) Paid() bool {
	return p.PriceCents > 0
}

var catalog = map[domain.PlanID]Plan{
	domain.PlanFree: {
		ID:           domain.PlanFree,
		Name:         "Free Glimpse",
		PriceCents:   0,
		WordLimit:    50_000,
		RoadmapItems: 3,
		Reanalyses:   0,
	},
	domain.PlanPro: {
		ID:            domain.PlanPro,
		Name:          "Pro Insights",
		PriceCents:    3900,
		WordLimit:     120_000,
		RoadmapItems:  10,
		PacingHeatmap: true,
		ThemeChart:    true,
		Reanalyses:    1,
	},
	domain.PlanPremium: {
		ID:               domain.PlanPremium,
		Name:             "Premium Studio",
		PriceCents:       9900,
		WordLimit:        250_000,
		RoadmapItems:     25,
		PacingHeatmap:    true,
		CharacterNetwork: true,
		ThemeChart:       true,
		Reanalyses:       -1,
	},
}

var ordered = []domain.PlanID{domain.PlanFree, domain.PlanPro, domain.PlanPremium}

// Lookup returns the plan for the given id.
func Lookup(id domain.PlanID) (Plan, bool) {
	p, ok := catalog[id]
	return p, ok
}

// Parse normalizes a user-supplied plan string.
func Parse(raw string) (Plan, bool) {
	return Lookup(domain.PlanID(strings.ToLower(strings.TrimSpace(raw))))
}

// All returns the catalog in display order.
func All() []Plan {
	out := make([]Plan, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, catalog[id])
	}
	return out
}

// ExceedsLimit reports whether a word count is over the plan ceiling. The
// upload wizard surfaces this as a warning only; the analysis engine
// truncates at the limit.
func ExceedsLimit(p Plan, wordCount int) bool {
	return p.WordLimit > 0 && wordCount > p.WordLimit
}

// AllowReanalysis reports whether another re-analysis run is permitted given
// how many have been used already.
func AllowReanalysis(p Plan, used int) bool {
	if p.Reanalyses < 0 {
		return true
	}
	return used < p.Reanalyses
}

// VisibleItems truncates a report's revision roadmap to the plan's item
// count. The stored report keeps the full list.
func VisibleItems(p Plan, items []domain.RevisionItem) []domain.RevisionItem {
	if p.RoadmapItems <= 0 || len(items) <= p.RoadmapItems {
		return items
	}
	return items[:p.RoadmapItems]
}
