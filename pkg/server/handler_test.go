package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mikeboe/research-crew/pkg/config"
	"github.com/mikeboe/research-crew/pkg/research"
	"github.com/mikeboe/research-crew/pkg/runner"
	"github.com/mikeboe/research-crew/pkg/store"
)

type fakeEngine struct {
	article string
	err     error
	block   chan struct{}
}

func (f *fakeEngine) Kickoff(ctx context.Context, crew *research.Crew) (*research.CrewOutput, error) {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, task := range crew.OrderedTasks() {
		if crew.BeforeTask != nil {
			crew.BeforeTask(task)
		}
	}
	return &research.CrewOutput{
		Raw: f.article,
		Tasks: []research.TaskOutput{
			{Name: research.ResearchTaskName, Raw: "notes"},
			{Name: research.WriteTaskName, Raw: f.article},
		},
	}, nil
}

func envWith(vals map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

var bothKeys = map[string]string{config.GoogleKeyEnv: "g", config.SerperKeyEnv: "s"}

func newTestServer(t *testing.T, engine research.Engine, env map[string]string) (*gin.Engine, *Service) {
	t.Helper()
	t.Chdir(t.TempDir())
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := config.NewKeyState(config.APIKeys{}).WithLookup(envWith(env))
	svc := NewService(runner.New(engine, "test-model", logger), store.NewMemoryStore(), keys, logger)

	h, err := NewHandler(svc)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	r := gin.New()
	h.RegisterRoutes(r)
	return r, svc
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestCreateRunCompletes(t *testing.T) {
	r, svc := newTestServer(t, &fakeEngine{article: "# Article\n\nBody"}, bothKeys)

	w := do(r, http.MethodPost, "/api/runs", map[string]any{"topic": "AI in healthcare"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/runs = %d %s", w.Code, w.Body.String())
	}
	created := decode[store.Run](t, w)
	svc.Wait()

	w = do(r, http.MethodGet, "/api/runs/"+created.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET run = %d", w.Code)
	}
	run := decode[store.Run](t, w)
	if run.Status != store.StatusCompleted || run.Article != "# Article\n\nBody" || run.Progress != 100 {
		t.Errorf("run = %+v", run)
	}
	if run.OutputFile != config.DefaultOutputFile {
		t.Errorf("OutputFile = %q", run.OutputFile)
	}
	data, err := os.ReadFile(config.DefaultOutputFile)
	if err != nil || string(data) != run.Article {
		t.Errorf("saved file = %q, %v", data, err)
	}

	w = do(r, http.MethodGet, "/api/runs/"+created.ID.String()+"/logs", nil)
	logs := decode[[]store.LogEntry](t, w)
	if len(logs) == 0 {
		t.Error("no logs recorded for the run")
	}

	w = do(r, http.MethodGet, "/api/runs/latest", nil)
	if latest := decode[store.Run](t, w); latest.ID != created.ID {
		t.Errorf("latest = %s, want %s", latest.ID, created.ID)
	}
}

func TestCreateRunValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		body map[string]any
		want int
	}{
		{"Missing keys", map[string]string{}, map[string]any{"topic": "AI"}, http.StatusBadRequest},
		{"Empty topic", bothKeys, map[string]any{"topic": "  "}, http.StatusBadRequest},
		{"Temperature out of range", bothKeys, map[string]any{"topic": "AI", "temperature": 1.5}, http.StatusBadRequest},
		{"Unknown response length", bothKeys, map[string]any{"topic": "AI", "response_length": "Huge"}, http.StatusBadRequest},
		{"Output path", bothKeys, map[string]any{"topic": "AI", "output_file": "../x.md"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, svc := newTestServer(t, &fakeEngine{article: "a"}, tt.env)
			w := do(r, http.MethodPost, "/api/runs", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			runs, _ := svc.Store.ListRuns(context.Background(), 0)
			if len(runs) != 0 {
				t.Errorf("rejected request created %d runs", len(runs))
			}
		})
	}
}

func TestRunsAreSequential(t *testing.T) {
	engine := &fakeEngine{article: "a", block: make(chan struct{})}
	r, svc := newTestServer(t, engine, bothKeys)

	w := do(r, http.MethodPost, "/api/runs", map[string]any{"topic": "first"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("first run = %d", w.Code)
	}
	w = do(r, http.MethodPost, "/api/runs", map[string]any{"topic": "second"})
	if w.Code != http.StatusConflict {
		t.Errorf("second run = %d, want 409", w.Code)
	}

	st := decode[Status](t, do(r, http.MethodGet, "/api/status", nil))
	if !st.Running || st.Current == nil || st.Current.Topic != "first" {
		t.Errorf("status = %+v", st)
	}

	close(engine.block)
	svc.Wait()

	w = do(r, http.MethodPost, "/api/runs", map[string]any{"topic": "third"})
	if w.Code != http.StatusAccepted {
		t.Errorf("run after completion = %d", w.Code)
	}
	svc.Wait()
}

func TestFailedRunIsClassified(t *testing.T) {
	r, svc := newTestServer(t, &fakeEngine{err: errors.New("serper: 403 forbidden")}, bothKeys)

	created := decode[store.Run](t, do(r, http.MethodPost, "/api/runs", map[string]any{"topic": "AI"}))
	svc.Wait()

	run := decode[store.Run](t, do(r, http.MethodGet, "/api/runs/"+created.ID.String(), nil))
	if run.Status != store.StatusError || run.Category != string(runner.CategorySearch) {
		t.Errorf("run = %+v", run)
	}
	if run.Hint != runner.Hint(runner.CategorySearch) || !strings.Contains(run.Error, "403 forbidden") {
		t.Errorf("hint/error = %q / %q", run.Hint, run.Error)
	}
	if _, err := os.Stat(config.DefaultOutputFile); !os.IsNotExist(err) {
		t.Error("file written for failed run")
	}

	w := do(r, http.MethodGet, "/api/runs/"+created.ID.String()+"/download", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("download of failed run = %d", w.Code)
	}
}

func TestRerunKeepsEarlierResult(t *testing.T) {
	r, svc := newTestServer(t, &fakeEngine{article: "article"}, bothKeys)

	first := decode[store.Run](t, do(r, http.MethodPost, "/api/runs", map[string]any{"topic": "first topic", "save_to_file": false}))
	svc.Wait()
	second := decode[store.Run](t, do(r, http.MethodPost, "/api/runs", map[string]any{"topic": "second topic", "save_to_file": false}))
	svc.Wait()

	got := decode[store.Run](t, do(r, http.MethodGet, "/api/runs/"+first.ID.String(), nil))
	if got.Topic != "first topic" || got.Status != store.StatusCompleted {
		t.Errorf("first run = %+v", got)
	}
	if got.OutputFile != "" {
		t.Errorf("OutputFile = %q, want none", got.OutputFile)
	}

	w := do(r, http.MethodGet, "/api/runs/"+first.ID.String()+"/download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="previous-article-first-topic.md"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if w.Body.String() != "article" {
		t.Errorf("body = %q", w.Body.String())
	}

	runs := decode[[]store.Run](t, do(r, http.MethodGet, "/api/runs", nil))
	if len(runs) != 2 || runs[0].ID != second.ID {
		t.Errorf("runs = %+v", runs)
	}
}

func TestManualKeysOverrideEnvironment(t *testing.T) {
	r, _ := newTestServer(t, &fakeEngine{article: "a"}, map[string]string{})

	st := decode[config.KeyStatus](t, do(r, http.MethodPut, "/api/keys", map[string]any{
		"method": "manual", "google_api_key": "g", "serper_api_key": "s",
	}))
	if !st.Ready() || st.Method != config.SourceManual || st.GoogleInEnv {
		t.Errorf("status = %+v", st)
	}

	w := do(r, http.MethodPut, "/api/keys", map[string]any{"method": "vault"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown method = %d", w.Code)
	}
}

func TestRunNotFound(t *testing.T) {
	r, _ := newTestServer(t, &fakeEngine{}, bothKeys)

	if w := do(r, http.MethodGet, "/api/runs/7b6c2b5e-1d7c-4c1f-9e5d-2f8f0d4f1a11", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/runs/not-a-uuid", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/runs/latest", nil); w.Code != http.StatusNotFound {
		t.Errorf("latest with no runs = %d", w.Code)
	}
}

func TestSearchWithoutArchive(t *testing.T) {
	r, _ := newTestServer(t, &fakeEngine{}, bothKeys)
	if w := do(r, http.MethodGet, "/api/articles/search?q=ai", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("search = %d, want 503", w.Code)
	}
}

func TestIndexPage(t *testing.T) {
	r, svc := newTestServer(t, &fakeEngine{article: "# Heading\n\n<script>alert(1)</script>"}, bothKeys)

	w := do(r, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Research Topic") {
		t.Fatalf("GET / = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), config.DefaultTopic) {
		t.Error("default topic missing from the form")
	}

	form := "topic=AI&verbose=on&output_file=post.md&temperature=0.3&response_length=Extended"
	req := httptest.NewRequest(http.MethodPost, "/ui/runs", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther || !strings.HasPrefix(rec.Header().Get("Location"), "/?run=") {
		t.Fatalf("POST /ui/runs = %d %s", rec.Code, rec.Header().Get("Location"))
	}
	svc.Wait()

	w = do(r, http.MethodGet, rec.Header().Get("Location"), nil)
	body := w.Body.String()
	if !strings.Contains(body, "<h1>Heading</h1>") {
		t.Errorf("article not rendered as HTML")
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("raw HTML from the article was not escaped")
	}
	if _, err := os.Stat("post.md"); !os.IsNotExist(err) {
		t.Error("unchecked save_to_file still wrote the file")
	}
}

func postForm(r http.Handler, path, form string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestKeyFormKeepsManualKeys(t *testing.T) {
	r, svc := newTestServer(t, &fakeEngine{article: "a"}, map[string]string{})

	steps := []string{
		"method=manual&google_api_key=g&serper_api_key=s",
		"method=environment",
		"method=manual&google_api_key=&serper_api_key=",
	}
	for _, form := range steps {
		if w := postForm(r, "/ui/keys", form); w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
			t.Fatalf("POST /ui/keys %q = %d %s", form, w.Code, w.Header().Get("Location"))
		}
	}

	st := svc.Keys.Status()
	if st.Method != config.SourceManual || !st.Ready() || !st.ManualGoogleSet || !st.ManualSerperSet {
		t.Errorf("status = %+v, want manual keys restored", st)
	}
	if keys := svc.Keys.Effective(); keys.Google != "g" || keys.Serper != "s" {
		t.Errorf("Effective() = %+v", keys)
	}
}
