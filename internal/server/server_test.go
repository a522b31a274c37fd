package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"inkstudio/internal/app"
	"inkstudio/internal/ratelimit"
	"inkstudio/pkg/analysis"
	"inkstudio/pkg/domain"
	"inkstudio/pkg/payment"
	"inkstudio/pkg/queue"
	"inkstudio/pkg/storage"
	"inkstudio/pkg/store"
)

type stubQueue struct {
	jobs []queue.Job
}

func (q *stubQueue) Enqueue(_ context.Context, manuscriptID, planID string) (queue.Job, error) {
	job := queue.Job{
		ID:           fmt.Sprintf("job-%d", len(q.jobs)+1),
		ManuscriptID: manuscriptID,
		PlanID:       planID,
		Status:       queue.StatusQueued,
	}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *stubQueue) GetJob(_ context.Context, jobID string) (queue.Job, bool, error) {
	for _, j := range q.jobs {
		if j.ID == jobID {
			return j, true, nil
		}
	}
	return queue.Job{}, false, nil
}

type fixture struct {
	app    *app.App
	queue  *stubQueue
	tokens *store.MemoryReportTokenStore
	now    time.Time
	srv    *httptest.Server
}

func newFixture(t *testing.T, cfgMut ...func(*Config)) *fixture {
	t.Helper()
	engine := analysis.NewMockEngine()
	engine.Delay = 0
	proc := payment.NewMockProcessor()
	proc.Latency = 0
	q := &stubQueue{}
	f := &fixture{queue: q, tokens: store.NewMemoryReportTokenStore(), now: time.Now().UTC()}
	f.tokens.WithClock(func() time.Time { return f.now })
	f.app = app.New(app.Options{
		Store:    store.NewMemoryStore(),
		Tokens:   f.tokens,
		Objects:  storage.NewMemoryObjectStore(),
		Queue:    q,
		Engine:   engine,
		Payments: proc,
	})
	cfg := Config{App: f.app}
	for _, mut := range cfgMut {
		mut(&cfg)
	}
	f.srv = httptest.NewServer(New(cfg).Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) upload(t *testing.T, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range map[string]string{
		"title":             "The Quiet Orchard",
		"author":            "Elena Rodriguez",
		"email":             "elena@example.com",
		"genre":             "literary",
		"publicationStatus": "unpublished",
	} {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	resp, err := http.Post(f.srv.URL+"/api/manuscripts", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

// analyzedManuscript uploads, starts analysis and runs the worker inline.
func (f *fixture) analyzedManuscript(t *testing.T) string {
	t.Helper()
	resp := f.upload(t, "orchard.txt", strings.Repeat("word ", 300))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	created := decode[struct {
		Manuscript domain.Manuscript `json:"manuscript"`
	}](t, resp)
	id := created.Manuscript.ID

	resp = f.postJSON(t, "/api/manuscripts/"+id+"/analyze", map[string]any{"plan": "free"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("analyze status = %d", resp.StatusCode)
	}
	accepted := decode[struct {
		Job queue.Job `json:"job"`
	}](t, resp)
	if err := f.app.HandleAnalysisJob(context.Background(), accepted.Job); err != nil {
		t.Fatalf("worker: %v", err)
	}
	return id
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPlansEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/plans")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	out := decode[struct {
		Count int `json:"count"`
	}](t, resp)
	if out.Count != 3 {
		t.Fatalf("expected 3 plans, got %d", out.Count)
	}
}

func TestUploadRejectsBadFormat(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, "malware.exe", "nope")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	out := decode[struct {
		Code string `json:"code"`
	}](t, resp)
	if out.Code != "MANUSCRIPT_INVALID_REQUEST" {
		t.Fatalf("code = %q", out.Code)
	}
}

func TestUploadAnalyzeReportRoundTrip(t *testing.T) {
	f := newFixture(t)
	id := f.analyzedManuscript(t)

	resp, err := http.Get(f.srv.URL + "/api/manuscripts/" + id)
	if err != nil {
		t.Fatalf("get manuscript: %v", err)
	}
	ms := decode[domain.Manuscript](t, resp)
	if ms.Status != domain.StatusInsightsUnveiled {
		t.Fatalf("status = %s", ms.Status)
	}

	resp, err = http.Get(f.srv.URL + "/api/manuscripts/" + id + "/report")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report status = %d", resp.StatusCode)
	}
	report := decode[struct {
		Report domain.AnalysisReport `json:"report"`
	}](t, resp)
	if len(report.Report.RevisionItems) != 3 {
		t.Fatalf("free plan report shows 3 items, got %d", len(report.Report.RevisionItems))
	}
}

func TestAnalyzeConflictsWhileRunning(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, "orchard.txt", strings.Repeat("word ", 100))
	created := decode[struct {
		Manuscript domain.Manuscript `json:"manuscript"`
	}](t, resp)
	id := created.Manuscript.ID

	resp = f.postJSON(t, "/api/manuscripts/"+id+"/analyze", map[string]any{"plan": "free"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first analyze = %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = f.postJSON(t, "/api/manuscripts/"+id+"/analyze", map[string]any{"plan": "free"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second analyze = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAnalyzeDeclinedCard(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, "orchard.txt", strings.Repeat("word ", 100))
	created := decode[struct {
		Manuscript domain.Manuscript `json:"manuscript"`
	}](t, resp)

	resp = f.postJSON(t, "/api/manuscripts/"+created.Manuscript.ID+"/analyze", map[string]any{
		"plan": "pro",
		"billing": map[string]string{
			"cardholderName": "Elena Rodriguez",
			"cardNumber":     "4000000000000002",
		},
	})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	out := decode[struct {
		Code string `json:"code"`
	}](t, resp)
	if out.Code != "PAYMENT_DECLINED" {
		t.Fatalf("code = %q", out.Code)
	}
}

func TestReanalyzeForbiddenOnFree(t *testing.T) {
	f := newFixture(t)
	id := f.analyzedManuscript(t)

	resp := f.postJSON(t, "/api/manuscripts/"+id+"/reanalyze", map[string]any{})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestShareTokenLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.analyzedManuscript(t)

	resp := f.postJSON(t, "/api/manuscripts/"+id+"/report/token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("regenerate = %d", resp.StatusCode)
	}
	minted := decode[struct {
		Token string `json:"token"`
	}](t, resp)

	resp, err := http.Get(f.srv.URL + "/api/reports/" + minted.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve = %d", resp.StatusCode)
	}
	view := decode[domain.ReportView](t, resp)
	if view.Manuscript.ID != id {
		t.Fatalf("view names wrong manuscript: %+v", view.Manuscript)
	}

	// Expiry surfaces as 410, not 404.
	f.now = f.now.Add(8 * 24 * time.Hour)
	resp, err = http.Get(f.srv.URL + "/api/reports/" + minted.Token)
	if err != nil {
		t.Fatalf("resolve expired: %v", err)
	}
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expired resolve = %d, want 410", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown token is 404.
	resp, err = http.Get(f.srv.URL + "/api/reports/deadbeef")
	if err != nil {
		t.Fatalf("resolve unknown: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown resolve = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.analyzedManuscript(t)

	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/manuscripts/"+id, nil)
	for i := 0; i < 2; i++ {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delete #%d = %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(f.srv.URL + "/api/manuscripts/" + id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted manuscript get = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBookshelfFilterAndSort(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"Zorro.txt", "Alpha.txt", "mango.txt"} {
		resp := f.upload(t, name, strings.Repeat("word ", 50))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("upload %s = %d", name, resp.StatusCode)
		}
		resp.Body.Close()
	}
	// The form title wins over the filename, so search by author instead.
	resp, err := http.Get(f.srv.URL + "/api/manuscripts?search=elena&sort=title-az")
	if err != nil {
		t.Fatalf("bookshelf: %v", err)
	}
	out := decode[struct {
		Count int `json:"count"`
	}](t, resp)
	if out.Count != 3 {
		t.Fatalf("count = %d, want 3", out.Count)
	}

	analyzedID := f.analyzedManuscript(t)
	resp, err = http.Get(f.srv.URL + "/api/manuscripts?status=" + string(domain.StatusInsightsUnveiled))
	if err != nil {
		t.Fatalf("bookshelf: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status filter = %d, want 200", resp.StatusCode)
	}
	filtered := decode[struct {
		Items []domain.Manuscript `json:"items"`
	}](t, resp)
	if len(filtered.Items) != 1 || filtered.Items[0].ID != analyzedID {
		t.Fatalf("expected only the analyzed record, got %+v", filtered.Items)
	}

	resp, err = http.Get(f.srv.URL + "/api/manuscripts?status=bogus")
	if err != nil {
		t.Fatalf("bookshelf: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWizardSessionFlowOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start session = %d", resp.StatusCode)
	}
	sess := decode[struct {
		SessionID string `json:"sessionId"`
	}](t, resp)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "orchard.txt")
	_, _ = fw.Write([]byte(strings.Repeat("word ", 100)))
	_ = mw.Close()
	up, err := http.Post(f.srv.URL+"/api/sessions/"+sess.SessionID+"/file", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("session file: %v", err)
	}
	if up.StatusCode != http.StatusCreated {
		t.Fatalf("session file = %d", up.StatusCode)
	}
	up.Body.Close()

	resp = f.postJSON(t, "/api/sessions/"+sess.SessionID+"/details", map[string]string{
		"authorName":        "Elena Rodriguez",
		"manuscriptTitle":   "The Quiet Orchard",
		"email":             "elena@example.com",
		"genre":             "literary",
		"publicationStatus": "unpublished",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("details = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.postJSON(t, "/api/sessions/"+sess.SessionID+"/plan", map[string]string{"plan": "free"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("plan = %d", resp.StatusCode)
	}
	chosen := decode[struct {
		Step string `json:"step"`
	}](t, resp)
	if chosen.Step != "processing" {
		t.Fatalf("free plan should skip payment, step = %s", chosen.Step)
	}

	resp = f.postJSON(t, "/api/sessions/"+sess.SessionID+"/start", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	accepted := decode[struct {
		Job queue.Job `json:"job"`
	}](t, resp)
	if err := f.app.HandleAnalysisJob(context.Background(), accepted.Job); err != nil {
		t.Fatalf("worker: %v", err)
	}

	resp = f.postJSON(t, "/api/sessions/"+sess.SessionID+"/finish", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finish = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestShareEndpointRateLimited(t *testing.T) {
	limiter, err := ratelimit.NewMemoryLimiter(1, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	f := newFixture(t, func(cfg *Config) { cfg.Limiter = limiter })

	for i, want := range []int{http.StatusNotFound, http.StatusTooManyRequests} {
		resp, err := http.Get(f.srv.URL + "/api/reports/sometoken")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("request #%d = %d, want %d", i+1, resp.StatusCode, want)
		}
		resp.Body.Close()
	}
}
