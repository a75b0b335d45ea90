package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123"},
		{name: "trims spaces", header: "Bearer   abc123  ", want: "abc123"},
		{name: "scheme is case insensitive", header: "bearer abc123", want: "abc123"},
		{name: "missing", header: "", wantErr: true},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "no token", header: "Bearer", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/pipelines", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractBearerToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ExtractBearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGuardAuthenticate(t *testing.T) {
	g := NewGuard([]TokenConfig{
		{Token: "reader", Scopes: []string{ScopeRunsRO, ScopePipelinesRO}},
		{Token: "writer", Scopes: []string{ScopeRunsRW, " "}},
		{Token: "", Scopes: []string{ScopeAll}},
		{Token: "admin", Scopes: []string{ScopeAll}},
	}, nil)

	if g.Open() {
		t.Fatal("guard with tokens reports open")
	}
	if _, ok := g.Authenticate("nope"); ok {
		t.Fatal("unknown token authenticated")
	}
	if _, ok := g.Authenticate(""); ok {
		t.Fatal("empty token authenticated")
	}

	reader, ok := g.Authenticate("reader")
	if !ok {
		t.Fatal("reader not authenticated")
	}
	if reader.Name != "token[0]" {
		t.Errorf("reader.Name = %q", reader.Name)
	}
	if reader.Has(ScopeRunsRW) {
		t.Error("reader must not have runs:rw")
	}
	if !reader.Has(ScopeRunsRO) {
		t.Error("reader should have runs:ro")
	}

	writer, _ := g.Authenticate("writer")
	if !writer.Has(ScopeRunsRO) {
		t.Error("runs:rw should imply runs:ro")
	}
	if writer.Has("") {
		t.Error("blank scope kept")
	}

	admin, _ := g.Authenticate("admin")
	if admin.Name != "token[3]" {
		t.Errorf("admin.Name = %q", admin.Name)
	}
	if !admin.Has(ScopeLogsRO) {
		t.Error("wildcard should grant every scope")
	}
	if !(Principal{}).HasAny() {
		t.Error("no required scopes should always pass")
	}
}

func TestGuardMiddleware(t *testing.T) {
	var gotStatus int
	var gotMessage string
	g := NewGuard([]TokenConfig{
		{Token: "reader", Scopes: []string{ScopeRunsRO}},
	}, func(w http.ResponseWriter, status int, message string) {
		gotStatus, gotMessage = status, message
		w.WriteHeader(status)
	})

	var seen Principal
	h := g.Middleware(g.Require(ScopeRunsRO)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
	})))
	write := g.Middleware(g.Require(ScopeRunsRW)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("write handler reached without runs:rw")
	})))

	tests := []struct {
		name    string
		handler http.Handler
		header  string
		status  int
		message string
	}{
		{name: "no header", handler: h, status: http.StatusUnauthorized, message: "missing Authorization header"},
		{name: "wrong token", handler: h, header: "Bearer nope", status: http.StatusUnauthorized, message: "invalid bearer token"},
		{name: "missing scope", handler: write, header: "Bearer reader", status: http.StatusForbidden, message: "insufficient scope"},
		{name: "allowed", handler: h, header: "Bearer reader", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotStatus, gotMessage = 0, ""
			req := httptest.NewRequest("GET", "/api/pipelines/p/triggers/t/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.message != "" && (gotStatus != tt.status || gotMessage != tt.message) {
				t.Fatalf("onError(%d, %q), want (%d, %q)", gotStatus, gotMessage, tt.status, tt.message)
			}
		})
	}
	if seen.Name != "token[0]" {
		t.Errorf("principal in context = %+v", seen)
	}
}

func TestOpenGuardAdmitsAnonymous(t *testing.T) {
	g := NewGuard(nil, nil)
	if !g.Open() {
		t.Fatal("guard without tokens should be open")
	}
	h := g.Middleware(g.Require(ScopeRunsRW)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || p.Name != "anonymous" {
			t.Errorf("principal = %+v, %v", p, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/run", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{Name: "t"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Name != "t" {
		t.Fatalf("PrincipalFromContext() = %+v, %v", p, ok)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("empty context returned a principal")
	}
}

func TestKnownScope(t *testing.T) {
	for _, s := range []string{ScopeAll, ScopeRunsRW, " logs:ro "} {
		if !KnownScope(s) {
			t.Errorf("KnownScope(%q) = false", s)
		}
	}
	if KnownScope("jobs:rw") {
		t.Error("KnownScope(jobs:rw) = true")
	}
}
