package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docsage/docsage/internal/completion"
	"github.com/docsage/docsage/internal/history"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/user"
)

type fakeVerifier struct {
	subject string
	err     error
}

func (f fakeVerifier) Verify(string) (string, error) { return f.subject, f.err }

type fakeDirectory struct {
	users map[string]*user.User
}

func (f fakeDirectory) ByID(_ context.Context, id string) (*user.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

type fakeSearcher struct {
	docs  []index.Document
	err   error
	gotK  int
	gotQ  string
	calls int
}

func (f *fakeSearcher) Search(_ context.Context, query string, k int) ([]index.Document, error) {
	f.calls++
	f.gotQ = query
	f.gotK = k
	return f.docs, f.err
}

type fakeResolver struct {
	searcher Searcher
}

func (f fakeResolver) Resolve(name string) (Searcher, error) {
	if _, err := index.ParseNamespace(name); err != nil {
		return nil, err
	}
	return f.searcher, nil
}

type fakeAnswerer struct {
	answer string
	err    error
	gotReq completion.Request
}

func (f *fakeAnswerer) Answer(_ context.Context, req completion.Request) (string, error) {
	f.gotReq = req
	return f.answer, f.err
}

type fakeRecorder struct {
	appended  []history.Record
	appendErr error
	listed    []history.Record
	listErr   error
}

func (f *fakeRecorder) Append(_ context.Context, userID, namespace, question, answer string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, history.Record{
		UserID: userID, Namespace: namespace, Question: question, Answer: answer,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeRecorder) List(_ context.Context, _, _ string, _ int) ([]history.Record, error) {
	return f.listed, f.listErr
}

type fixture struct {
	verifier fakeVerifier
	dir      fakeDirectory
	searcher *fakeSearcher
	answerer *fakeAnswerer
	recorder *fakeRecorder
}

func newFixture() *fixture {
	return &fixture{
		verifier: fakeVerifier{subject: "user-1"},
		dir: fakeDirectory{users: map[string]*user.User{
			"user-1": {ID: "user-1", Email: "a@example.com"},
		}},
		searcher: &fakeSearcher{docs: []index.Document{
			{ID: "d1", Content: "first chunk"},
			{ID: "d2", Content: "second chunk"},
		}},
		answerer: &fakeAnswerer{answer: "the answer"},
		recorder: &fakeRecorder{},
	}
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Verifier: f.verifier,
		Users:    f.dir,
		Resolver: fakeResolver{searcher: f.searcher},
		Answerer: f.answerer,
		Recorder: f.recorder,
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p
}

func TestQuery(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)

	res, err := p.Query(context.Background(), "cred", "fastapi", "  how do routes work?  ")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}

	if res.Answer != "the answer" {
		t.Errorf("Answer = %q", res.Answer)
	}
	if res.Namespace != "fastapi" {
		t.Errorf("Namespace = %q", res.Namespace)
	}
	if len(res.Sources) != 2 {
		t.Errorf("Sources = %d, want 2", len(res.Sources))
	}

	// Retrieval uses the trimmed question and the fixed fan-out.
	if f.searcher.gotQ != "how do routes work?" {
		t.Errorf("search query = %q", f.searcher.gotQ)
	}
	if f.searcher.gotK != TopK {
		t.Errorf("search k = %d, want %d", f.searcher.gotK, TopK)
	}

	// Chunks reach the model joined by the boundary marker.
	wantCtx := "first chunk" + ContextSeparator + "second chunk"
	if f.answerer.gotReq.Context != wantCtx {
		t.Errorf("completion context = %q, want %q", f.answerer.gotReq.Context, wantCtx)
	}
	if f.answerer.gotReq.Namespace != index.NamespaceFastAPI {
		t.Errorf("completion namespace = %q", f.answerer.gotReq.Namespace)
	}

	// The exchange lands in history.
	if len(f.recorder.appended) != 1 {
		t.Fatalf("appended %d records, want 1", len(f.recorder.appended))
	}
	rec := f.recorder.appended[0]
	if rec.UserID != "user-1" || rec.Namespace != "fastapi" || rec.Answer != "the answer" {
		t.Errorf("recorded %+v", rec)
	}
}

func TestQueryFailures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*fixture)
		namespace string
		question  string
		wantErr   error
	}{
		{
			name:      "bad credential",
			mutate:    func(f *fixture) { f.verifier = fakeVerifier{err: errors.New("expired")} },
			namespace: "fastapi", question: "q",
			wantErr: ErrUnauthorized,
		},
		{
			name:      "subject deleted",
			mutate:    func(f *fixture) { f.verifier = fakeVerifier{subject: "ghost"} },
			namespace: "fastapi", question: "q",
			wantErr: ErrUnauthorized,
		},
		{
			name:      "empty question",
			mutate:    func(*fixture) {},
			namespace: "fastapi", question: "   ",
			wantErr: ErrBadRequest,
		},
		{
			name:      "unknown namespace",
			mutate:    func(*fixture) {},
			namespace: "flask", question: "q",
			wantErr: ErrBadRequest,
		},
		{
			name:      "search failure",
			mutate:    func(f *fixture) { f.searcher.err = errors.New("db down") },
			namespace: "fastapi", question: "q",
			wantErr: ErrPersistence,
		},
		{
			name:      "completion failure",
			mutate:    func(f *fixture) { f.answerer.err = completion.ErrUpstream },
			namespace: "fastapi", question: "q",
			wantErr: ErrUpstream,
		},
		{
			name:      "history append failure",
			mutate:    func(f *fixture) { f.recorder.appendErr = errors.New("db down") },
			namespace: "fastapi", question: "q",
			wantErr: ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.mutate(f)
			p := f.pipeline(t)

			_, err := p.Query(context.Background(), "cred", tt.namespace, tt.question)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Query() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueryStopsAtFirstFailure(t *testing.T) {
	f := newFixture()
	f.verifier = fakeVerifier{err: errors.New("expired")}
	p := f.pipeline(t)

	_, _ = p.Query(context.Background(), "cred", "fastapi", "q")
	if f.searcher.calls != 0 {
		t.Errorf("search ran %d times after auth failure", f.searcher.calls)
	}
	if len(f.recorder.appended) != 0 {
		t.Errorf("history recorded after auth failure")
	}
}

func TestQueryNothingRecordedOnUpstreamFailure(t *testing.T) {
	f := newFixture()
	f.answerer.err = errors.New("model down")
	p := f.pipeline(t)

	_, _ = p.Query(context.Background(), "cred", "fastapi", "q")
	if len(f.recorder.appended) != 0 {
		t.Error("history recorded despite completion failure")
	}
}

func TestHistory(t *testing.T) {
	f := newFixture()
	f.recorder.listed = []history.Record{
		{Question: "q2", Answer: "a2"},
		{Question: "q1", Answer: "a1"},
	}
	p := f.pipeline(t)

	records, err := p.History(context.Background(), "cred", "fastapi", 10)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(records) != 2 || records[0].Question != "q2" {
		t.Errorf("History() = %+v", records)
	}
}

func TestHistoryFailures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*fixture)
		namespace string
		wantErr   error
	}{
		{"bad credential", func(f *fixture) { f.verifier = fakeVerifier{err: errors.New("bad")} }, "fastapi", ErrUnauthorized},
		{"unknown namespace", func(*fixture) {}, "flask", ErrBadRequest},
		{"list failure", func(f *fixture) { f.recorder.listErr = errors.New("db down") }, "fastapi", ErrPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.mutate(f)
			p := f.pipeline(t)

			_, err := p.History(context.Background(), "cred", tt.namespace, 10)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("History() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewValidatesConfig(t *testing.T) {
	f := newFixture()
	base := Config{
		Verifier: f.verifier,
		Users:    f.dir,
		Resolver: fakeResolver{searcher: f.searcher},
		Answerer: f.answerer,
		Recorder: f.recorder,
	}

	for i, mutate := range []func(*Config){
		func(c *Config) { c.Verifier = nil },
		func(c *Config) { c.Users = nil },
		func(c *Config) { c.Resolver = nil },
		func(c *Config) { c.Answerer = nil },
		func(c *Config) { c.Recorder = nil },
	} {
		cfg := base
		mutate(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("New() case %d accepted nil collaborator", i)
		}
	}
}

func TestJoinContext(t *testing.T) {
	docs := []index.Document{
		{Content: "a"}, {Content: "b"}, {Content: "c"},
	}
	want := fmt.Sprintf("a%sb%sc", ContextSeparator, ContextSeparator)
	if got := joinContext(docs); got != want {
		t.Errorf("joinContext() = %q, want %q", got, want)
	}
	if got := joinContext(nil); got != "" {
		t.Errorf("joinContext(nil) = %q, want empty", got)
	}
	if strings.Count(joinContext(docs), ContextSeparator) != 2 {
		t.Error("separator count mismatch")
	}
}
