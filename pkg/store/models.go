package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ManuscriptModel struct {
	ID                string `gorm:"primaryKey"`
	Title             string `gorm:"not null"`
	Author            string `gorm:"not null;index"`
	Email             string
	Genre             string
	PublicationStatus string
	WordCount         int    `gorm:"not null"`
	Status            string `gorm:"not null;index"`
	AnalysisID        string `gorm:"index"`
	LastAnalyzed      *time.Time
	UploadedAt        time.Time `gorm:"not null;index"`
	FileSizeBytes     int64     `gorm:"not null"`
	FileFormat        string    `gorm:"not null"`
	StorageKey        string
	PlanID            string
	ReanalysesUsed    int
	ErrorMessage      string
	UpdatedAt         time.Time `gorm:"not null"`
}

type ReportModel struct {
	ID            string `gorm:"primaryKey"`
	ManuscriptID  string `gorm:"not null;uniqueIndex"`
	Overall       int    `gorm:"not null"`
	Pacing        int    `gorm:"not null"`
	Character     int    `gorm:"not null"`
	Dialogue      int    `gorm:"not null"`
	Theme         int    `gorm:"not null"`
	RevisionItems datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null"`
}
