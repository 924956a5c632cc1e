package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docsage/docsage/internal/api"
	"github.com/docsage/docsage/internal/completion"
	"github.com/docsage/docsage/internal/history"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/pipeline"
	"github.com/docsage/docsage/internal/testutil"
	"github.com/docsage/docsage/internal/token"
	"github.com/docsage/docsage/internal/user"
)

// newTestServer wires real stores over a container database with mock
// model and embedder, mirroring the production graph built in Setup.
func newTestServer(t *testing.T) (*api.Server, *testutil.MockModel) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	g := testutil.NewGenkit(t)

	mockModel := testutil.NewMockModel("I don't know.")
	mockModel.Register(g)
	embedder := testutil.NewMockEmbedder(index.EmbeddingDim).Register(g)

	tokens, err := token.New("integration-test-secret-0123456789abcdef")
	if err != nil {
		t.Fatalf("token.New() error: %v", err)
	}
	users, err := user.NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("user.NewStore() error: %v", err)
	}
	registry, err := index.NewRegistry(db.Pool, embedder, log.NewNop())
	if err != nil {
		t.Fatalf("index.NewRegistry() error: %v", err)
	}
	client, err := completion.New(g, "mock/test-model", log.NewNop())
	if err != nil {
		t.Fatalf("completion.New() error: %v", err)
	}
	ledger, err := history.NewLedger(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("history.NewLedger() error: %v", err)
	}

	// Seed a retrievable chunk so the query has context to work with.
	ix, err := registry.Resolve("fastapi")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	err = ix.Add(context.Background(), []index.Document{{
		ID:      "fastapi-routing-1",
		Content: "Declare path operations with decorators like @app.get.",
		Source:  "https://fastapi.tiangolo.com/tutorial/first-steps/",
	}})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	p, err := pipeline.New(pipeline.Config{
		Verifier: tokens,
		Users:    users,
		Resolver: pipeline.RegistryResolver{Registry: registry},
		Answerer: client,
		Recorder: ledger,
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("pipeline.New() error: %v", err)
	}

	srv, err := api.NewServer(api.ServerConfig{
		Logger:   log.NewNop(),
		Accounts: users,
		Issuer:   tokens,
		Service:  p,
		Pool:     db.Pool,
		IsDev:    true,
	})
	if err != nil {
		t.Fatalf("api.NewServer() error: %v", err)
	}
	return srv, mockModel
}

func postJSON(t *testing.T, srv *api.Server, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encoding request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// TestQueryEndToEnd walks the full user journey over HTTP: register,
// ask a question against the seeded corpus, and read it back from
// history.
func TestQueryEndToEnd(t *testing.T) {
	srv, mockModel := newTestServer(t)
	mockModel.AddResponse("declare a route", "Use the @app.get decorator.")

	// Register and keep the issued credential.
	rec := postJSON(t, srv, "/api/v1/register",
		map[string]string{"email": "e2e@example.com", "password": "correct-horse"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body.String())
	}
	var reg struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decoding register response: %v", err)
	}
	if reg.AccessToken == "" {
		t.Fatal("register returned no credential")
	}

	// Ask a question with the credential.
	rec = postJSON(t, srv, "/api/v1/query",
		map[string]string{"namespace": "fastapi", "question": "How do I declare a route?"},
		reg.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d: %s", rec.Code, rec.Body.String())
	}
	var result pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding query response: %v", err)
	}
	if result.Answer != "Use the @app.get decorator." {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Sources) == 0 {
		t.Error("query returned no sources despite seeded corpus")
	}

	// The exchange is in history, exactly once.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?namespace=fastapi", nil)
	req.Header.Set("Authorization", "Bearer "+reg.AccessToken)
	histRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(histRec, req)
	if histRec.Code != http.StatusOK {
		t.Fatalf("history status = %d: %s", histRec.Code, histRec.Body.String())
	}
	var hist struct {
		Records []history.Record `json:"records"`
	}
	if err := json.Unmarshal(histRec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decoding history response: %v", err)
	}
	if len(hist.Records) != 1 {
		t.Fatalf("history has %d records, want exactly 1", len(hist.Records))
	}
	if hist.Records[0].Question != "How do I declare a route?" {
		t.Errorf("recorded question = %q", hist.Records[0].Question)
	}
	if hist.Records[0].Answer != "Use the @app.get decorator." {
		t.Errorf("recorded answer = %q", hist.Records[0].Answer)
	}
}

// TestQueryEndToEndRejectsForeignCredential checks that a credential
// signed with a different secret is rejected before any work happens.
func TestQueryEndToEndRejectsForeignCredential(t *testing.T) {
	srv, _ := newTestServer(t)

	other, err := token.New("a-completely-different-secret-9876543210")
	if err != nil {
		t.Fatalf("token.New() error: %v", err)
	}
	forged, err := other.Issue("some-user", token.DefaultTTL)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	rec := postJSON(t, srv, "/api/v1/query",
		map[string]string{"namespace": "fastapi", "question": "anything"}, forged)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged credential status = %d, want 401: %s", rec.Code, rec.Body.String())
	}
}
