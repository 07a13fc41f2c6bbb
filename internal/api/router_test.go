package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/models"
	"github.com/Fantasim/solmigrate/internal/tx"
)

type stubReader struct{}

func (stubReader) Discover(_ context.Context, owner solana.PublicKey) (*models.Holdings, error) {
	return &models.Holdings{Owner: owner.String()}, nil
}

type stubRunner struct{ runs int }

func (s *stubRunner) RunConsolidation(_ context.Context, destination string, _ models.ClassToggles) (*models.RunSummary, error) {
	s.runs++
	return &models.RunSummary{RunID: "r", Destination: destination}, nil
}

func (s *stubRunner) Status() models.RunStatus { return models.RunStatus{State: models.StateIdle} }

func newTestRouter(runner *stubRunner) http.Handler {
	return NewRouter(context.Background(), Deps{
		Config:   &config.Config{Network: "mainnet"},
		Signer:   "signer",
		Holdings: stubReader{},
		Runner:   runner,
		Events:   tx.NewEventHub(),
	})
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(&stubRunner{})
	owner := solana.NewWallet().PublicKey().String()

	tests := []struct {
		path string
		want int
	}{
		{"/api/health", http.StatusOK},
		{"/api/run", http.StatusOK},
		{"/api/holdings/" + owner, http.StatusOK},
		{"/api/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Host = "localhost:8080"
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
			}
		})
	}
}

func TestRouter_ConsolidateRequiresCSRF(t *testing.T) {
	runner := &stubRunner{}
	router := newTestRouter(runner)
	body := `{"destination":"` + solana.NewWallet().PublicKey().String() + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/consolidate?wait=true", strings.NewReader(body))
	req.Host = "localhost"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("without token: status = %d, want 403", w.Code)
	}
	if runner.runs != 0 {
		t.Fatal("runner must not be reached without a CSRF token")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/consolidate?wait=true", strings.NewReader(body))
	req.Host = "localhost"
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
	req.Header.Set("X-CSRF-Token", "tok")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("with token: status = %d, want 200. body: %s", w.Code, w.Body.String())
	}
	if runner.runs != 1 {
		t.Errorf("runs = %d, want 1", runner.runs)
	}
}

func TestRouter_RejectsForeignHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Host = "attacker.example"
	w := httptest.NewRecorder()
	newTestRouter(&stubRunner{}).ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}
