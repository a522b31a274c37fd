// Package app wires the studio core: the upload wizard, the manuscript
// lifecycle, the analysis pipeline and report sharing. HTTP handlers stay
// thin; all orchestration lives here.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inkstudio/pkg/analysis"
	"inkstudio/pkg/bookshelf"
	"inkstudio/pkg/domain"
	"inkstudio/pkg/events"
	"inkstudio/pkg/intake"
	"inkstudio/pkg/lifecycle"
	"inkstudio/pkg/payment"
	"inkstudio/pkg/plan"
	"inkstudio/pkg/queue"
	"inkstudio/pkg/session"
	"inkstudio/pkg/storage"
	"inkstudio/pkg/store"
)

var (
	// ErrSessionNotFound indicates an unknown or expired wizard session.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrNoReport indicates the manuscript has no completed analysis.
	ErrNoReport = errors.New("no analysis report available")
)

// DownloadLinkTTL bounds pre-signed manuscript download URLs.
const DownloadLinkTTL = 15 * time.Minute

// App is the composition root for the studio core.
type App struct {
	log      *slog.Logger
	store    store.Store
	tokens   store.ReportTokenStore
	machine  *lifecycle.Machine
	intake   intake.Service
	objects  storage.ObjectStore
	queue    queue.AnalysisQueue
	engine   analysis.Engine
	payments payment.Processor
	events   events.Publisher
	sessions *session.Manager
}

// Options carries the collaborators New assembles into an App.
type Options struct {
	Logger   *slog.Logger
	Store    store.Store
	Tokens   store.ReportTokenStore
	Intake   intake.Service
	Objects  storage.ObjectStore
	Queue    queue.AnalysisQueue
	Engine   analysis.Engine
	Payments payment.Processor
	Events   events.Publisher
}

// New builds the app. Nil optional collaborators get safe defaults.
func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Intake == nil {
		opts.Intake = intake.NewParser()
	}
	if opts.Events == nil {
		opts.Events = events.NoopPublisher{}
	}
	return &App{
		log:      opts.Logger,
		store:    opts.Store,
		tokens:   opts.Tokens,
		machine:  lifecycle.New(opts.Store, opts.Tokens),
		intake:   opts.Intake,
		objects:  opts.Objects,
		queue:    opts.Queue,
		engine:   opts.Engine,
		payments: opts.Payments,
		events:   opts.Events,
		sessions: session.NewManager(),
	}
}

// Machine exposes the lifecycle machine, for tests.
func (a *App) Machine() *lifecycle.Machine { return a.machine }

// StartUpload opens a new wizard session.
func (a *App) StartUpload() *session.Session {
	return a.sessions.Start()
}

// Session resolves a live wizard session.
func (a *App) Session(id string) (*session.Session, error) {
	s, ok := a.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// AbandonUpload cancels and forgets a wizard session. The manuscript record,
// if one was minted, stays on the bookshelf.
func (a *App) AbandonUpload(id string) {
	a.sessions.Drop(id)
}

// AttachFile validates the upload, mints the manuscript record and stores the
// file. The parse result is returned even on preflight failure so the wizard
// can render which check failed; no record is created in that case.
func (a *App) AttachFile(ctx context.Context, sessionID, filename string, data []byte) (intake.ParseResult, domain.Manuscript, error) {
	sess, err := a.Session(sessionID)
	if err != nil {
		return intake.ParseResult{}, domain.Manuscript{}, err
	}
	res, err := a.intake.ValidateAndParse(ctx, filename, data)
	if err != nil {
		return res, domain.Manuscript{}, err
	}
	ms, err := a.machine.Create(lifecycle.CreateInput{
		Filename:  filename,
		SizeBytes: res.SizeBytes,
		WordCount: res.WordCount,
	})
	if err != nil {
		return res, domain.Manuscript{}, err
	}
	key := storage.ManuscriptKey(ms.ID, filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), res.SizeBytes, storage.ContentTypeFor(res.Format)); err != nil {
		return res, domain.Manuscript{}, fmt.Errorf("store upload: %w", err)
	}
	ms.StorageKey = key
	if err := a.store.SaveManuscript(ms); err != nil {
		return res, domain.Manuscript{}, fmt.Errorf("save manuscript: %w", err)
	}
	if err := sess.SetFile(res, filename, ms.ID); err != nil {
		return res, domain.Manuscript{}, err
	}
	a.log.Info("manuscript_uploaded", "manuscript_id", ms.ID, "format", res.Format, "words", res.WordCount)
	return res, ms, nil
}

// SubmitDetails validates the details step and copies the metadata onto the
// stored record.
func (a *App) SubmitDetails(sessionID string, d session.Details) (domain.Manuscript, error) {
	sess, err := a.Session(sessionID)
	if err != nil {
		return domain.Manuscript{}, err
	}
	if err := sess.SetDetails(d); err != nil {
		return domain.Manuscript{}, err
	}
	ms, err := a.manuscript(sess.ManuscriptID())
	if err != nil {
		return domain.Manuscript{}, err
	}
	ms.Title = d.ManuscriptTitle
	ms.Author = d.AuthorName
	ms.Email = d.Email
	ms.Genre = d.Genre
	ms.PublicationStatus = d.PublicationStatus
	if d.WordCount > 0 {
		ms.WordCount = d.WordCount
	}
	ms.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveManuscript(ms); err != nil {
		return domain.Manuscript{}, fmt.Errorf("save manuscript: %w", err)
	}
	return ms, nil
}

// ChoosePlan records the tier selection. Unknown plan names are rejected; an
// over-limit word count yields a warning, not an error.
func (a *App) ChoosePlan(sessionID, planID string) (plan.Plan, string, error) {
	sess, err := a.Session(sessionID)
	if err != nil {
		return plan.Plan{}, "", err
	}
	p, ok := plan.Parse(planID)
	if !ok {
		return plan.Plan{}, "", lifecycle.ErrUnknownPlan
	}
	warning, err := sess.SetPlan(p)
	if err != nil {
		return plan.Plan{}, "", err
	}
	return p, warning, nil
}

// Checkout charges the selected paid plan.
func (a *App) Checkout(ctx context.Context, sessionID string, billing domain.BillingDetails) (domain.Transaction, error) {
	sess, err := a.Session(sessionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx, err := sess.Checkout(ctx, a.payments, billing)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := a.events.Publish(ctx, events.Event{
		Kind:         events.PaymentCaptured,
		ManuscriptID: sess.ManuscriptID(),
		Fields:       map[string]any{"transactionId": tx.ID, "amountCents": tx.AmountCents, "planId": tx.PlanID},
	}); err != nil {
		a.log.Warn("publish_payment_event_failed", "error", err)
	}
	return tx, nil
}

// StartAnalysis locks the plan onto the record and enqueues the analysis job.
func (a *App) StartAnalysis(ctx context.Context, sessionID string) (queue.Job, error) {
	sess, err := a.Session(sessionID)
	if err != nil {
		return queue.Job{}, err
	}
	if sess.Step() != session.StepProcessing {
		return queue.Job{}, fmt.Errorf("%w: analysis at %s", session.ErrStepOrder, sess.Step())
	}
	p, ok := sess.Plan()
	if !ok {
		return queue.Job{}, lifecycle.ErrUnknownPlan
	}
	ms, err := a.machine.BeginAnalysis(sess.ManuscriptID(), p.ID)
	if err != nil {
		return queue.Job{}, err
	}
	job, err := a.queue.Enqueue(ctx, ms.ID, string(p.ID))
	if err != nil {
		// Roll the record back so the upload can be retried.
		if _, ferr := a.machine.FailAnalysis(ms.ID, "enqueue failed"); ferr != nil {
			a.log.Error("rollback_after_enqueue_failed", "manuscript_id", ms.ID, "error", ferr)
		}
		return queue.Job{}, fmt.Errorf("enqueue analysis: %w", err)
	}
	a.log.Info("analysis_enqueued", "manuscript_id", ms.ID, "job_id", job.ID, "plan", p.ID)
	return job, nil
}

// FinishSession closes the wizard once the analysis has landed.
func (a *App) FinishSession(ctx context.Context, sessionID string) error {
	sess, err := a.Session(sessionID)
	if err != nil {
		return err
	}
	ms, err := a.manuscript(sess.ManuscriptID())
	if err != nil {
		return err
	}
	if !ms.Analyzed() {
		return fmt.Errorf("%w: analysis still running", session.ErrStepOrder)
	}
	return sess.Process(ctx, func(context.Context) error { return nil })
}

// UploadManuscript is the one-shot upload path: validate, mint the record
// with its metadata and store the file, without a wizard session.
func (a *App) UploadManuscript(ctx context.Context, filename string, data []byte, d session.Details) (domain.Manuscript, intake.ParseResult, error) {
	res, err := a.intake.ValidateAndParse(ctx, filename, data)
	if err != nil {
		return domain.Manuscript{}, res, err
	}
	ms, err := a.machine.Create(lifecycle.CreateInput{
		Title:             d.ManuscriptTitle,
		Author:            d.AuthorName,
		Email:             d.Email,
		Genre:             d.Genre,
		PublicationStatus: d.PublicationStatus,
		Filename:          filename,
		SizeBytes:         res.SizeBytes,
		WordCount:         res.WordCount,
	})
	if err != nil {
		return domain.Manuscript{}, res, err
	}
	key := storage.ManuscriptKey(ms.ID, filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), res.SizeBytes, storage.ContentTypeFor(res.Format)); err != nil {
		return domain.Manuscript{}, res, fmt.Errorf("store upload: %w", err)
	}
	ms.StorageKey = key
	if err := a.store.SaveManuscript(ms); err != nil {
		return domain.Manuscript{}, res, fmt.Errorf("save manuscript: %w", err)
	}
	a.log.Info("manuscript_uploaded", "manuscript_id", ms.ID, "format", res.Format, "words", res.WordCount)
	return ms, res, nil
}

// Analyze is the one-shot analysis path: charge when the plan is paid, lock
// the plan onto the record and enqueue the job. The transaction is zero for
// free plans.
func (a *App) Analyze(ctx context.Context, manuscriptID, planID string, billing domain.BillingDetails) (queue.Job, domain.Transaction, error) {
	p, ok := plan.Parse(planID)
	if !ok {
		return queue.Job{}, domain.Transaction{}, lifecycle.ErrUnknownPlan
	}
	ms, err := a.manuscript(manuscriptID)
	if err != nil {
		return queue.Job{}, domain.Transaction{}, err
	}
	if ms.Status != domain.StatusAwaitingWisdom {
		return queue.Job{}, domain.Transaction{}, fmt.Errorf("%w: analyze from %s", lifecycle.ErrInvalidState, ms.Status)
	}
	var tx domain.Transaction
	if p.Paid() {
		tx, err = a.payments.Charge(ctx, p, billing)
		if err != nil {
			return queue.Job{}, domain.Transaction{}, err
		}
		if err := a.events.Publish(ctx, events.Event{
			Kind:         events.PaymentCaptured,
			ManuscriptID: ms.ID,
			Fields:       map[string]any{"transactionId": tx.ID, "amountCents": tx.AmountCents, "planId": tx.PlanID},
		}); err != nil {
			a.log.Warn("publish_payment_event_failed", "error", err)
		}
	}
	if _, err := a.machine.BeginAnalysis(ms.ID, p.ID); err != nil {
		return queue.Job{}, tx, err
	}
	job, err := a.queue.Enqueue(ctx, ms.ID, string(p.ID))
	if err != nil {
		if _, ferr := a.machine.FailAnalysis(ms.ID, "enqueue failed"); ferr != nil {
			a.log.Error("rollback_after_enqueue_failed", "manuscript_id", ms.ID, "error", ferr)
		}
		return queue.Job{}, tx, fmt.Errorf("enqueue analysis: %w", err)
	}
	a.log.Info("analysis_enqueued", "manuscript_id", ms.ID, "job_id", job.ID, "plan", p.ID)
	return job, tx, nil
}

// JobStatus reports queue progress for polling clients.
func (a *App) JobStatus(ctx context.Context, jobID string) (queue.Job, bool, error) {
	return a.queue.GetJob(ctx, jobID)
}

// Reanalyze re-runs analysis on an already analyzed manuscript, within the
// locked plan's quota.
func (a *App) Reanalyze(ctx context.Context, manuscriptID string) (queue.Job, error) {
	ms, err := a.machine.Reanalyze(manuscriptID)
	if err != nil {
		return queue.Job{}, err
	}
	job, err := a.queue.Enqueue(ctx, ms.ID, string(ms.PlanID))
	if err != nil {
		return queue.Job{}, fmt.Errorf("enqueue analysis: %w", err)
	}
	a.log.Info("reanalysis_enqueued", "manuscript_id", ms.ID, "job_id", job.ID, "run", ms.ReanalysesUsed)
	return job, nil
}

// HandleAnalysisJob is the queue worker entry point. Engine failures are
// final for the run: the record reverts to awaiting-wisdom and the job is
// acked. Store errors are returned so the queue retries.
func (a *App) HandleAnalysisJob(ctx context.Context, job queue.Job) error {
	ms, ok, err := a.store.GetManuscript(job.ManuscriptID)
	if err != nil {
		return fmt.Errorf("get manuscript: %w", err)
	}
	if !ok || ms.Status != domain.StatusUnderScrutiny {
		// Deleted or already settled; nothing to do.
		return nil
	}
	p, ok := plan.Parse(job.PlanID)
	if !ok {
		p, ok = plan.Lookup(ms.PlanID)
		if !ok {
			p, _ = plan.Lookup(domain.PlanFree)
		}
	}

	report, err := a.engine.Analyze(ctx, ms, p)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		if _, ferr := a.machine.FailAnalysis(ms.ID, err.Error()); ferr != nil {
			return fmt.Errorf("record failure: %w", ferr)
		}
		a.publishLifecycle(ctx, events.AnalysisFailed, ms.ID, map[string]any{"cause": err.Error()})
		a.log.Warn("analysis_failed", "manuscript_id", ms.ID, "error", err)
		return nil
	}

	updated, token, err := a.machine.CompleteAnalysis(ms.ID, report)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidState) || errors.Is(err, lifecycle.ErrManuscriptNotFound) {
			return nil
		}
		return fmt.Errorf("complete analysis: %w", err)
	}
	a.publishLifecycle(ctx, events.AnalysisCompleted, updated.ID, map[string]any{
		"reportId": report.ID,
		"overall":  report.Overall,
	})
	a.log.Info("analysis_completed", "manuscript_id", updated.ID, "report_id", report.ID, "overall", report.Overall, "share_token_issued", token != "")
	return nil
}

// Bookshelf lists manuscripts through the given filter and sort.
func (a *App) Bookshelf(q bookshelf.Query) ([]domain.Manuscript, error) {
	all, err := a.store.ListManuscripts()
	if err != nil {
		return nil, fmt.Errorf("list manuscripts: %w", err)
	}
	return bookshelf.List(all, q), nil
}

// Manuscript returns one record.
func (a *App) Manuscript(id string) (domain.Manuscript, error) {
	return a.manuscript(id)
}

// Delete removes the record, its report, its share token and its stored file.
// Unknown ids are a no-op.
func (a *App) Delete(ctx context.Context, id string) error {
	ms, ok, err := a.store.GetManuscript(id)
	if err != nil {
		return fmt.Errorf("get manuscript: %w", err)
	}
	if err := a.machine.Delete(id); err != nil {
		return err
	}
	if ok && ms.StorageKey != "" {
		if err := a.objects.Delete(ctx, ms.StorageKey); err != nil {
			a.log.Warn("delete_object_failed", "manuscript_id", id, "key", ms.StorageKey, "error", err)
		}
	}
	if ok {
		a.publishLifecycle(ctx, events.ManuscriptDeleted, id, nil)
	}
	return nil
}

// Report returns the owner's view of the analysis: the stored report with
// revision items truncated to the locked plan's visible count.
func (a *App) Report(manuscriptID string) (domain.AnalysisReport, domain.Manuscript, error) {
	ms, err := a.manuscript(manuscriptID)
	if err != nil {
		return domain.AnalysisReport{}, domain.Manuscript{}, err
	}
	if !ms.Analyzed() {
		return domain.AnalysisReport{}, domain.Manuscript{}, ErrNoReport
	}
	report, ok, err := a.store.GetReport(ms.AnalysisID)
	if err != nil {
		return domain.AnalysisReport{}, domain.Manuscript{}, fmt.Errorf("get report: %w", err)
	}
	if !ok {
		return domain.AnalysisReport{}, domain.Manuscript{}, ErrNoReport
	}
	return a.truncateForPlan(report, ms), ms, nil
}

// SharedReport resolves a share-link token into the public report view.
func (a *App) SharedReport(token string) (domain.ReportView, error) {
	reportID, expiry, err := a.tokens.Resolve(token)
	if err != nil {
		return domain.ReportView{}, err
	}
	report, ok, err := a.store.GetReport(reportID)
	if err != nil {
		return domain.ReportView{}, fmt.Errorf("get report: %w", err)
	}
	if !ok {
		return domain.ReportView{}, store.ErrTokenNotFound
	}
	ms, err := a.manuscript(report.ManuscriptID)
	if err != nil {
		return domain.ReportView{}, err
	}
	return domain.ReportView{
		Report:     a.truncateForPlan(report, ms),
		Manuscript: ms.Summary(),
		ExpiresAt:  expiry,
	}, nil
}

// RegenerateShareLink mints a fresh token for the current report and
// invalidates the previous link.
func (a *App) RegenerateShareLink(manuscriptID string) (string, time.Time, error) {
	ms, err := a.manuscript(manuscriptID)
	if err != nil {
		return "", time.Time{}, err
	}
	if !ms.Analyzed() {
		return "", time.Time{}, ErrNoReport
	}
	return a.tokens.Issue(ms.AnalysisID, lifecycle.ShareTokenTTL)
}

// DownloadURL mints a short-lived pre-signed URL for the original file.
func (a *App) DownloadURL(ctx context.Context, manuscriptID string) (string, error) {
	ms, err := a.manuscript(manuscriptID)
	if err != nil {
		return "", err
	}
	if ms.StorageKey == "" {
		return "", fmt.Errorf("%w: no stored file", lifecycle.ErrManuscriptNotFound)
	}
	return a.objects.PresignGet(ctx, ms.StorageKey, DownloadLinkTTL)
}

func (a *App) truncateForPlan(report domain.AnalysisReport, ms domain.Manuscript) domain.AnalysisReport {
	p, ok := plan.Lookup(ms.PlanID)
	if !ok {
		p, _ = plan.Lookup(domain.PlanFree)
	}
	report.RevisionItems = plan.VisibleItems(p, report.RevisionItems)
	return report
}

func (a *App) manuscript(id string) (domain.Manuscript, error) {
	ms, ok, err := a.store.GetManuscript(id)
	if err != nil {
		return domain.Manuscript{}, fmt.Errorf("get manuscript: %w", err)
	}
	if !ok {
		return domain.Manuscript{}, lifecycle.ErrManuscriptNotFound
	}
	return ms, nil
}

func (a *App) publishLifecycle(ctx context.Context, kind, manuscriptID string, fields map[string]any) {
	if err := a.events.Publish(ctx, events.Event{
		Kind:         kind,
		ManuscriptID: manuscriptID,
		OccurredAt:   time.Now().UTC(),
		Fields:       fields,
	}); err != nil {
		a.log.Warn("publish_event_failed", "kind", kind, "manuscript_id", manuscriptID, "error", err)
	}
}
