package domain

import "time"

type ManuscriptStatus string

const (
	StatusAwaitingWisdom   ManuscriptStatus = "awaiting-wisdom"
	StatusUnderScrutiny    ManuscriptStatus = "under-scrutiny"
	StatusInsightsUnveiled ManuscriptStatus = "insights-unveiled"
)

type PlanID string

const (
	PlanFree    PlanID = "free"
	PlanPro     PlanID = "pro"
	PlanPremium PlanID = "premium"
)

type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

type Manuscript struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Author            string           `json:"author"`
	Email             string           `json:"email,omitempty"`
	Genre             string           `json:"genre,omitempty"`
	PublicationStatus string           `json:"publicationStatus,omitempty"`
	WordCount         int              `json:"wordCount"`
	Status            ManuscriptStatus `json:"status"`
	AnalysisID        string           `json:"analysisId,omitempty"`
	LastAnalyzed      *time.Time       `json:"lastAnalyzed,omitempty"`
	UploadedAt        time.Time        `json:"uploadedAt"`
	FileSizeBytes     int64            `json:"fileSizeBytes"`
	FileFormat        string           `json:"fileFormat"`
	StorageKey        string           `json:"-"`
	PlanID            PlanID           `json:"planId,omitempty"`
	ReanalysesUsed    int              `json:"reanalysesUsed"`
	ErrorMessage      string           `json:"errorMessage,omitempty"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// Analyzed reports whether the record carries a completed analysis. The
// lifecycle machine keeps AnalysisID and LastAnalyzed present exactly when
// the status is insights-unveiled.
func (m Manuscript) Analyzed() bool {
	return m.Status == StatusInsightsUnveiled
}

type AnalysisReport struct {
	ID            string         `json:"id"`
	ManuscriptID  string         `json:"manuscriptId"`
	Overall       int            `json:"overall"`
	Pacing        int            `json:"pacing"`
	Character     int            `json:"character"`
	Dialogue      int            `json:"dialogue"`
	Theme         int            `json:"theme"`
	RevisionItems []RevisionItem `json:"revisionItems"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type RevisionItem struct {
	Priority   int         `json:"priority"`
	Impact     ImpactLevel `json:"impact"`
	Effort     ImpactLevel `json:"effort"`
	Suggestion string      `json:"suggestion"`
}

type BillingDetails struct {
	CardholderName string `json:"cardholderName"`
	CardNumber     string `json:"cardNumber"`
	Email          string `json:"email"`
}

type Transaction struct {
	ID          string    `json:"id"`
	PlanID      PlanID    `json:"planId"`
	AmountCents int       `json:"amountCents"`
	CardLast4   string    `json:"cardLast4,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ReportView is what a share link resolves to: the report plus a summary of
// the owning manuscript. Revision items are truncated to the owning plan's
// visible count at render time, never in storage.
type ReportView struct {
	Report     AnalysisReport    `json:"report"`
	Manuscript ManuscriptSummary `json:"manuscript"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

type ManuscriptSummary struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Author       string           `json:"author"`
	WordCount    int              `json:"wordCount"`
	Status       ManuscriptStatus `json:"status"`
	PlanID       PlanID           `json:"planId,omitempty"`
	LastAnalyzed *time.Time       `json:"lastAnalyzed,omitempty"`
}

// Summary projects the fields exposed alongside a shared report.
func (m Manuscript) Summary() ManuscriptSummary {
	return ManuscriptSummary{
		ID:           m.ID,
		Title:        m.Title,
		Author:       m.Author,
		WordCount:    m.WordCount,
		Status:       m.Status,
		PlanID:       m.PlanID,
		LastAnalyzed: m.LastAnalyzed,
	}
}
