package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redactai/redactai/internal/audit"
	"github.com/redactai/redactai/internal/auth"
	"github.com/redactai/redactai/internal/config"
	"github.com/redactai/redactai/internal/detect"
	"github.com/redactai/redactai/internal/engine"
	"github.com/redactai/redactai/internal/notify"
	"github.com/redactai/redactai/internal/safety"
)

const (
	testKey   = "test-key"
	riskyText = "My email is test@example.com and my API key is sk_live_abc123xyz"
	safeText  = "What's the capital of France?"
)

type fixedClassifier struct{}

func (fixedClassifier) Classify(_ context.Context, text string) (safety.ClassificationResult, error) {
	if strings.Contains(text, "sk_live") {
		return safety.ClassificationResult{Category: safety.ContentCredentials, Confidence: 0.87}, nil
	}
	return safety.ClassificationResult{Category: safety.ContentSafe, Confidence: 0.95}, nil
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []*notify.Incident
}

func (n *recordingNotifier) Notify(_ context.Context, inc *notify.Incident) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, inc)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.got)
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	store    *audit.Recorder
	notifier *recordingNotifier
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("testdata/does-not-exist.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Server.Addr = ":0"
	cfg.Server.MaxBodyBytes = 4096
	cfg.Server.MaxInFlight = 4
	cfg.Users = []config.UserConfig{{
		ID:                "alice",
		Email:             "alice@example.com",
		NotificationEmail: "security@example.com",
		APIKeys:           []string{testKey},
	}, {
		ID:      "bob",
		APIKeys: []string{"bob-key"},
	}}
	return cfg
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	det, err := detect.New(detect.Options{})
	if err != nil {
		t.Fatalf("detector: %v", err)
	}
	eng, err := engine.New(det, fixedClassifier{}, engine.Options{HighSeverityBonus: detect.DefaultHighSeverityBonus, MaxTextBytes: 1000})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	store, err := audit.Open(audit.Config{Path: filepath.Join(t.TempDir(), "audit.db"), LogLevel: "silent"})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	n := &recordingNotifier{}
	s, err := New(Deps{Config: cfg, Auth: authz, Engine: eng, Store: store, Notifier: n, ClassifierMode: "ml"})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return &testEnv{srv: s, handler: s.Handler(), store: store, notifier: n}
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func analyzeBody(text string) string {
	b, _ := json.Marshal(analyzeRequest{Text: text})
	return string(b)
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body apiErrorBody
	decode(t, rr, &body)
	return body.Error.Type
}

func TestAnalyzeRequiresAuth(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	for _, key := range []string{"", "wrong"} {
		rr := env.do(t, http.MethodPost, "/v1/analyze", key, analyzeBody(riskyText))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: expected 401, got %d", key, rr.Code)
		}
		if typ := errorType(t, rr); typ != "authentication_error" {
			t.Fatalf("expected authentication_error, got %q", typ)
		}
		if strings.Contains(rr.Body.String(), "decision") {
			t.Fatalf("rejection must not look like an assessment: %s", rr.Body.String())
		}
	}
}

func TestAnalyzeReturnsAssessmentAndRecord(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewBufferString(analyzeBody(riskyText)))
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Referer", "https://chatgpt.com/c/123")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		OverallScore int    `json:"overall_risk_score"`
		Decision     string `json:"decision"`
		AICategory   string `json:"ai_category"`
		Explanation  string `json:"explanation"`
		Detections   []struct {
			Type string `json:"type"`
		} `json:"regex_detections"`
		ClassifierAvailable bool   `json:"classifier_available"`
		RecordID            string `json:"record_id"`
		AuditError          string `json:"audit_error"`
	}
	decode(t, rr, &resp)
	if resp.Decision != "BLOCK" || resp.OverallScore != 100 {
		t.Fatalf("expected BLOCK/100, got %s/%d", resp.Decision, resp.OverallScore)
	}
	if resp.AICategory != "credentials" || !resp.ClassifierAvailable {
		t.Fatalf("unexpected classifier fields: %+v", resp)
	}
	if len(resp.Detections) != 2 || resp.RecordID == "" || resp.AuditError != "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if strings.Contains(rr.Body.String(), "sk_live") {
		t.Fatalf("response must not echo the secret")
	}

	rec, err := env.store.Get(context.Background(), "alice", resp.RecordID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Platform != "ChatGPT" || rec.UserAction != audit.ActionPending {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if strings.Contains(rec.Excerpt, "sk_live") || strings.Contains(rec.Excerpt, "test@example.com") {
		t.Fatalf("excerpt not masked: %q", rec.Excerpt)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	cases := []struct {
		name string
		body string
		code int
		typ  string
	}{
		{"empty text", analyzeBody("   "), http.StatusBadRequest, "validation_error"},
		{"bad json", "{not json", http.StatusBadRequest, "validation_error"},
		{"text over engine limit", analyzeBody(strings.Repeat("a", 1001)), http.StatusBadRequest, "validation_error"},
		{"body over server limit", analyzeBody(strings.Repeat("a", 5000)), http.StatusRequestEntityTooLarge, "request_too_large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/analyze", testKey, tc.body)
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rr.Code, rr.Body.String())
			}
			if typ := errorType(t, rr); typ != tc.typ {
				t.Fatalf("expected %s, got %s", tc.typ, typ)
			}
		})
	}
}

func TestAnalyzeStillAnswersWhenAuditFails(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	if err := env.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	rr := env.do(t, http.MethodPost, "/v1/analyze", testKey, analyzeBody(riskyText))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp analyzeResponse
	decode(t, rr, &resp)
	if resp.AuditError != "persistence_failed" || resp.RecordID != "" {
		t.Fatalf("expected audit_error, got %+v", resp)
	}
	if resp.RiskAssessment == nil || resp.Decision != safety.DecisionBlock {
		t.Fatalf("assessment must still be returned: %s", rr.Body.String())
	}
}

func TestAnalyzeDeduplicatesCorrelationID(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	body := `{"text":"` + safeText + `","correlation_id":"tab-1-msg-7"}`
	var first, second analyzeResponse
	decode(t, env.do(t, http.MethodPost, "/v1/analyze", testKey, body), &first)
	decode(t, env.do(t, http.MethodPost, "/v1/analyze", testKey, body), &second)
	if first.RecordID == "" || first.RecordID != second.RecordID {
		t.Fatalf("expected one record, got %q and %q", first.RecordID, second.RecordID)
	}
	if first.Deduplicated || !second.Deduplicated {
		t.Fatalf("unexpected dedup flags: %v %v", first.Deduplicated, second.Deduplicated)
	}
}

func analyzeRecordID(t *testing.T, env *testEnv, key, text string) string {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/v1/analyze", key, analyzeBody(text))
	if rr.Code != http.StatusOK {
		t.Fatalf("analyze: %d %s", rr.Code, rr.Body.String())
	}
	var resp analyzeResponse
	decode(t, rr, &resp)
	return resp.RecordID
}

func TestProceededNotifiesExactlyOnce(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	id := analyzeRecordID(t, env, testKey, riskyText)
	path := "/v1/scans/" + id + "/action"

	var first, second actionResponse
	rr := env.do(t, http.MethodPost, path, testKey, `{"action":"proceeded"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decode(t, rr, &first)
	decode(t, env.do(t, http.MethodPost, path, testKey, `{"action":"proceeded"}`), &second)

	if !first.Changed || first.Notification != notify.OutcomeQueued {
		t.Fatalf("unexpected first response: %+v", first)
	}
	if second.Changed || second.Notification != notify.OutcomeSkipped {
		t.Fatalf("unexpected second response: %+v", second)
	}
	if env.notifier.count() != 1 {
		t.Fatalf("expected exactly one incident, got %d", env.notifier.count())
	}
	inc := env.notifier.got[0]
	if inc.Recipient != "security@example.com" || inc.RecordID != id || inc.Platform != unknownPlatform {
		t.Fatalf("unexpected incident: %+v", inc)
	}
}

func TestConcurrentProceededNotifiesOnce(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	id := analyzeRecordID(t, env, testKey, riskyText)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.do(t, http.MethodPost, "/v1/scans/"+id+"/action", testKey, `{"action":"proceeded"}`)
		}()
	}
	wg.Wait()
	if env.notifier.count() != 1 {
		t.Fatalf("expected exactly one incident, got %d", env.notifier.count())
	}
}

func TestActionConflictsAndErrors(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	id := analyzeRecordID(t, env, testKey, riskyText)
	path := "/v1/scans/" + id + "/action"

	if rr := env.do(t, http.MethodPost, path, testKey, `{"action":"cancelled"}`); rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, path, testKey, `{"action":"proceeded"}`)
	if rr.Code != http.StatusConflict || errorType(t, rr) != "conflict" {
		t.Fatalf("expected 409 conflict, got %d %s", rr.Code, rr.Body.String())
	}
	if env.notifier.count() != 0 {
		t.Fatalf("cancelled record must not notify")
	}

	if rr := env.do(t, http.MethodPost, path, testKey, `{"action":"maybe"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad action, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/v1/scans/nope/action", testKey, `{"action":"proceeded"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	// Another user's record is invisible.
	if rr := env.do(t, http.MethodPost, path, "bob-key", `{"action":"cancelled"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign record, got %d", rr.Code)
	}
}

func TestSafeProceededSkipsNotification(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	id := analyzeRecordID(t, env, testKey, safeText)
	var resp actionResponse
	decode(t, env.do(t, http.MethodPost, "/v1/scans/"+id+"/action", testKey, `{"action":"proceeded"}`), &resp)
	if !resp.Changed || resp.Notification != notify.OutcomeSkipped {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if env.notifier.count() != 0 {
		t.Fatalf("safe record must not notify")
	}
}

func TestHistoryAndGet(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	first := analyzeRecordID(t, env, testKey, safeText)
	time.Sleep(5 * time.Millisecond)
	second := analyzeRecordID(t, env, testKey, riskyText)
	analyzeRecordID(t, env, "bob-key", safeText)

	var hist struct {
		Scans []audit.ScanRecord `json:"scans"`
	}
	decode(t, env.do(t, http.MethodGet, "/v1/scans?limit=10", testKey, ""), &hist)
	if len(hist.Scans) != 2 || hist.Scans[0].ID != second || hist.Scans[1].ID != first {
		t.Fatalf("unexpected history: %+v", hist.Scans)
	}

	decode(t, env.do(t, http.MethodGet, "/v1/scans?limit=1", testKey, ""), &hist)
	if len(hist.Scans) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(hist.Scans))
	}
	if rr := env.do(t, http.MethodGet, "/v1/scans?limit=abc", testKey, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}

	var rec audit.ScanRecord
	rr := env.do(t, http.MethodGet, "/v1/scans/"+second, testKey, "")
	decode(t, rr, &rec)
	if rec.ID != second || rec.Decision != safety.DecisionBlock {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rr := env.do(t, http.MethodGet, "/v1/scans/"+second, "bob-key", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign record, got %d", rr.Code)
	}
}

func TestInFlightLimit(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.MaxInFlight = 1
	env := newTestEnv(t, cfg)
	env.srv.inFlight <- struct{}{}
	defer func() { <-env.srv.inFlight }()

	rr := env.do(t, http.MethodPost, "/v1/analyze", testKey, analyzeBody(safeText))
	if rr.Code != http.StatusServiceUnavailable || errorType(t, rr) != "overloaded" {
		t.Fatalf("expected 503 overloaded, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	if rr := env.do(t, http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	rr := env.do(t, http.MethodGet, "/readyz", "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"classifier":"ml"`) {
		t.Fatalf("readyz: %d %s", rr.Code, rr.Body.String())
	}
	_ = env.store.Close()
	if rr := env.do(t, http.MethodGet, "/readyz", "", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after store closed, got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t))
	if rr := env.do(t, http.MethodGet, "/v1/analyze", testKey, ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestDetectPlatform(t *testing.T) {
	cases := []struct {
		explicit, referer, want string
	}{
		{"", "https://chatgpt.com/c/1", "ChatGPT"},
		{"", "https://chat.openai.com/", "ChatGPT"},
		{"", "https://claude.ai/chat/x", "Claude.ai"},
		{"", "https://chat.deepseek.com/", "DeepSeek"},
		{"", "https://gemini.google.com/app", "Gemini"},
		{"", "https://example.com/", unknownPlatform},
		{"", "", unknownPlatform},
		{"Copilot", "https://chatgpt.com/", "Copilot"},
		{strings.Repeat("x", 100), "", strings.Repeat("x", maxPlatformRunes)},
	}
	for _, tc := range cases {
		if got := detectPlatform(tc.explicit, tc.referer); got != tc.want {
			t.Fatalf("detectPlatform(%q, %q) = %q, want %q", tc.explicit, tc.referer, got, tc.want)
		}
	}
}
