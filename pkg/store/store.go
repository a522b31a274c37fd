package store

import (
	"errors"
	"time"

	"inkstudio/pkg/domain"
)

var (
	// ErrTokenNotFound indicates no live token record for the given value.
	ErrTokenNotFound = errors.New("report token not found")
	// ErrTokenExpired indicates the token exists but its expiry has passed.
	ErrTokenExpired = errors.New("report token expired")
)

// Store defines persistence operations for manuscripts and analysis reports.
type Store interface {
	SaveManuscript(domain.Manuscript) error
	GetManuscript(id string) (domain.Manuscript, bool, error)
	ListManuscripts() ([]domain.Manuscript, error)
	// DeleteManuscript removes the record and its report. Deleting an
	// unknown id is a no-op.
	DeleteManuscript(id string) error

	SaveReport(domain.AnalysisReport) error
	GetReport(id string) (domain.AnalysisReport, bool, error)
	// DeleteReportByManuscript drops any report owned by the manuscript.
	// Re-analysis completion uses it to replace the prior report.
	DeleteReportByManuscript(manuscriptID string) error
}

// ReportTokenStore maps opaque share-link tokens to report IDs. Issue always
// mints a fresh token and atomically invalidates any prior token for the same
// report, so it doubles as the regenerate operation. Expired tokens stay
// resolvable as ErrTokenExpired for a retention window; invalidated tokens
// resolve as ErrTokenNotFound.
type ReportTokenStore interface {
	Issue(reportID string, ttl time.Duration) (token string, expiry time.Time, err error)
	Resolve(token string) (reportID string, expiry time.Time, err error)
	// Revoke drops the current token for a report, if any.
	Revoke(reportID string) error
}
