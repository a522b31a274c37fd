package analysis

import (
	"context"

	"inkstudio/pkg/domain"
	"inkstudio/pkg/plan"
)

// Engine is the external analysis collaborator. Duration and content are
// entirely its concern; the lifecycle machine only records start and
// completion.
type Engine interface {
	Analyze(ctx context.Context, m domain.Manuscript, p plan.Plan) (domain.AnalysisReport, error)
}
