package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/federation"
	"github.com/mohammad-safakhou/scholar/internal/store"
)

type fakeAnswerer struct {
	ans   *federation.Answer
	err   error
	query core.Query
}

func (f *fakeAnswerer) Answer(ctx context.Context, q core.Query) (*federation.Answer, error) {
	f.query = q
	return f.ans, f.err
}

func (f *fakeAnswerer) Domains() []federation.DomainInfo {
	return []federation.DomainInfo{{Name: "image", Description: "classroom photos"}}
}

type fakeRuns struct {
	recs map[string]store.RunRecord
}

func (f *fakeRuns) GetRun(ctx context.Context, id string) (store.RunRecord, error) {
	rec, ok := f.recs[id]
	if !ok {
		return store.RunRecord{}, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeRuns) ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	var out []store.RunRecord
	for _, r := range f.recs {
		out = append(out, r)
	}
	return out, nil
}

type fakeEvents struct{}

func (fakeEvents) Transitions(ctx context.Context, runID string, limit int64) ([]federation.Transition, error) {
	return []federation.Transition{{RunID: runID, State: federation.StateReceived}}, nil
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func do(s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAskReturnsAnswer(t *testing.T) {
	fa := &fakeAnswerer{ans: &federation.Answer{RunID: "r1", State: federation.StateSynthesized, Narrative: "fine"}}
	s := newTestServer(t, Deps{Answerer: fa})

	rec := do(s, http.MethodPost, "/api/ask", `{"question":" How is Maya? ","entity_hint":"Maya","inputs":{"image":"/tmp/a.jpg"}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["narrative"] != "fine" || body["state"] != string(federation.StateSynthesized) {
		t.Fatalf("unexpected body %v", body)
	}
	if fa.query.Text != "How is Maya?" || fa.query.EntityHint != "Maya" || fa.query.Inputs["image"] != "/tmp/a.jpg" {
		t.Fatalf("unexpected query %+v", fa.query)
	}
	if fa.query.ID == "" {
		t.Fatalf("expected a generated run id")
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	s := newTestServer(t, Deps{Answerer: &fakeAnswerer{}})
	if rec := do(s, http.MethodPost, "/api/ask", `{"question":"  "}`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPost, "/api/ask", `{`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestAskMapsFailures(t *testing.T) {
	partial := &federation.Answer{RunID: "r2", State: federation.StateFailed, Limitations: []string{"No image data was used"}}
	cases := []struct {
		name string
		ans  *federation.Answer
		err  error
		code int
	}{
		{"no plan", partial, &federation.FailureError{RunID: "r2", State: federation.StateMerging, Err: federation.ErrNoPlan}, http.StatusUnprocessableEntity},
		{"synthesis", partial, &federation.FailureError{RunID: "r2", State: federation.StateMerging, Err: federation.ErrSynthesisUnavailable}, http.StatusBadGateway},
		{"deadline", nil, &federation.FailureError{RunID: "r2", State: federation.StateExecuting, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"other", nil, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, Deps{Answerer: &fakeAnswerer{ans: tc.ans, err: tc.err}})
			rec := do(s, http.MethodPost, "/api/ask", `{"question":"q"}`, "")
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
			if tc.ans != nil && !strings.Contains(rec.Body.String(), "No image data was used") {
				t.Fatalf("expected partial answer in body: %s", rec.Body.String())
			}
		})
	}
}

func TestAuthAndScopes(t *testing.T) {
	secret := []byte("s3cret")
	s := newTestServer(t, Deps{
		Answerer:  &fakeAnswerer{ans: &federation.Answer{RunID: "r"}},
		JWTSecret: secret,
	})
	if rec := do(s, http.MethodPost, "/api/ask", `{"question":"q"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPost, "/api/ask", `{"question":"q"}`, "garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
	readOnly, err := SignJWT("u1", secret, time.Hour, ScopeRead)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	if rec := do(s, http.MethodPost, "/api/ask", `{"question":"q"}`, readOnly); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	asker, _ := SignJWT("u1", secret, time.Hour, ScopeAsk)
	if rec := do(s, http.MethodPost, "/api/ask", `{"question":"q"}`, asker); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	expired, _ := SignJWT("u1", secret, -time.Minute, ScopeAsk)
	if rec := do(s, http.MethodPost, "/api/ask", `{"question":"q"}`, expired); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}
	if rec := do(s, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz should be public, got %d", rec.Code)
	}
}

func TestRunRoutes(t *testing.T) {
	id := "7b0c5a52-0c1e-4c39-9d0e-55b1f0e5f7a1"
	runs := &fakeRuns{recs: map[string]store.RunRecord{
		id: {ID: id, Query: "q", State: "SYNTHESIZED", Domains: []string{"image"}, Report: json.RawMessage(`{"requested":["image"]}`)},
	}}
	s := newTestServer(t, Deps{Answerer: &fakeAnswerer{}, Runs: runs, Events: fakeEvents{}})

	rec := do(s, http.MethodGet, "/api/runs/"+id, "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"requested":["image"]`) {
		t.Fatalf("unexpected run response %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(s, http.MethodGet, "/api/runs/not-a-uuid", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(s, http.MethodGet, "/api/runs/11111111-1111-1111-1111-111111111111", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = do(s, http.MethodGet, "/api/runs/"+id+"/events", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"RECEIVED"`) {
		t.Fatalf("unexpected events response %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(s, http.MethodGet, "/api/runs", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), id) {
		t.Fatalf("unexpected list response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOptionalRoutesDisabled(t *testing.T) {
	s := newTestServer(t, Deps{Answerer: &fakeAnswerer{}})
	if rec := do(s, http.MethodGet, "/api/runs", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec := do(s, http.MethodGet, "/api/domains", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "classroom photos") {
		t.Fatalf("unexpected domains response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewRequiresAnswerer(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error")
	}
}
