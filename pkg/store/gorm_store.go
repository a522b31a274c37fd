package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"inkstudio/pkg/domain"
)

const migrateLockID int64 = 48112263

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ManuscriptModel{}, &ReportModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

// SaveManuscript stores or replaces a record.
func (g *GormStore) SaveManuscript(m domain.Manuscript) error {
	model := manuscriptToModel(m)
	if err := g.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save manuscript: %w", err)
	}
	return nil
}

// GetManuscript retrieves a record by ID.
func (g *GormStore) GetManuscript(id string) (domain.Manuscript, bool, error) {
	var model ManuscriptModel
	err := g.db.First(&model, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Manuscript{}, false, nil
	}
	if err != nil {
		return domain.Manuscript{}, false, fmt.Errorf("get manuscript: %w", err)
	}
	return manuscriptFromModel(model), true, nil
}

// ListManuscripts returns all records ordered by upload time descending.
func (g *GormStore) ListManuscripts() ([]domain.Manuscript, error) {
	var models []ManuscriptModel
	if err := g.db.Order("uploaded_at DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list manuscripts: %w", err)
	}
	out := make([]domain.Manuscript, 0, len(models))
	for _, model := range models {
		out = append(out, manuscriptFromModel(model))
	}
	return out, nil
}

// DeleteManuscript removes the record and its report. No-op for unknown ids.
func (g *GormStore) DeleteManuscript(id string) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ReportModel{}, "manuscript_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete report: %w", err)
		}
		if err := tx.Delete(&ManuscriptModel{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete manuscript: %w", err)
		}
		return nil
	})
}

// SaveReport stores or replaces an analysis report.
func (g *GormStore) SaveReport(r domain.AnalysisReport) error {
	items, err := json.Marshal(r.RevisionItems)
	if err != nil {
		return fmt.Errorf("encode revision items: %w", err)
	}
	model := ReportModel{
		ID:            r.ID,
		ManuscriptID:  r.ManuscriptID,
		Overall:       r.Overall,
		Pacing:        r.Pacing,
		Character:     r.Character,
		Dialogue:      r.Dialogue,
		Theme:         r.Theme,
		RevisionItems: items,
		CreatedAt:     r.CreatedAt,
	}
	if err := g.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// GetReport retrieves a report by ID.
func (g *GormStore) GetReport(id string) (domain.AnalysisReport, bool, error) {
	var model ReportModel
	err := g.db.First(&model, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return domain.AnalysisReport{}, false, nil
	}
	if err != nil {
		return domain.AnalysisReport{}, false, fmt.Errorf("get report: %w", err)
	}
	report := domain.AnalysisReport{
		ID:           model.ID,
		ManuscriptID: model.ManuscriptID,
		Overall:      model.Overall,
		Pacing:       model.Pacing,
		Character:    model.Character,
		Dialogue:     model.Dialogue,
		Theme:        model.Theme,
		CreatedAt:    model.CreatedAt,
	}
	if len(model.RevisionItems) > 0 {
		if err := json.Unmarshal(model.RevisionItems, &report.RevisionItems); err != nil {
			return domain.AnalysisReport{}, false, fmt.Errorf("decode revision items: %w", err)
		}
	}
	return report, true, nil
}

// DeleteReportByManuscript drops any report owned by the manuscript.
func (g *GormStore) DeleteReportByManuscript(manuscriptID string) error {
	if err := g.db.Delete(&ReportModel{}, "manuscript_id = ?", manuscriptID).Error; err != nil {
		return fmt.Errorf("delete report by manuscript: %w", err)
	}
	return nil
}

func manuscriptToModel(m domain.Manuscript) ManuscriptModel {
	return ManuscriptModel{
		ID:                m.ID,
		Title:             m.Title,
		Author:            m.Author,
		Email:             m.Email,
		Genre:             m.Genre,
		PublicationStatus: m.PublicationStatus,
		WordCount:         m.WordCount,
		Status:            string(m.Status),
		AnalysisID:        m.AnalysisID,
		LastAnalyzed:      m.LastAnalyzed,
		UploadedAt:        m.UploadedAt,
		FileSizeBytes:     m.FileSizeBytes,
		FileFormat:        m.FileFormat,
		StorageKey:        m.StorageKey,
		PlanID:            string(m.PlanID),
		ReanalysesUsed:    m.ReanalysesUsed,
		ErrorMessage:      m.ErrorMessage,
		UpdatedAt:         m.UpdatedAt,
	}
}

func manuscriptFromModel(m ManuscriptModel) domain.Manuscript {
	return domain.Manuscript{
		ID:                m.ID,
		Title:             m.Title,
		Author:            m.Author,
		Email:             m.Email,
		Genre:             m.Genre,
		PublicationStatus: m.PublicationStatus,
		WordCount:         m.WordCount,
		Status:            domain.ManuscriptStatus(m.Status),
		AnalysisID:        m.AnalysisID,
		LastAnalyzed:      m.LastAnalyzed,
		UploadedAt:        m.UploadedAt,
		FileSizeBytes:     m.FileSizeBytes,
		FileFormat:        m.FileFormat,
		StorageKey:        m.StorageKey,
		PlanID:            domain.PlanID(m.PlanID),
		ReanalysesUsed:    m.ReanalysesUsed,
		ErrorMessage:      m.ErrorMessage,
		UpdatedAt:         m.UpdatedAt,
	}
}
