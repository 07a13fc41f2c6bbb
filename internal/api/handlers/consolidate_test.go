package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/models"
)

func postConsolidate(h http.Handler, query, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/consolidate"+query, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func offCurveAddress(t *testing.T) string {
	t.Helper()
	pda, _, err := solana.FindProgramAddress([][]byte{[]byte("vault")}, solana.SystemProgramID)
	if err != nil {
		t.Fatal(err)
	}
	return pda.String()
}

func TestStartConsolidation_RejectsBeforeRunning(t *testing.T) {
	runner := &mockRunner{runFn: func(context.Context, string, models.ClassToggles) (*models.RunSummary, error) {
		t.Fatal("runner should not be called")
		return nil, nil
	}}
	handler := StartConsolidation(context.Background(), runner)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "malformed body", body: "{", wantCode: config.ErrorInvalidRequest},
		{name: "empty destination", body: `{"destination":""}`, wantCode: config.ErrorInvalidDestination},
		{name: "not base58", body: `{"destination":"0OIl"}`, wantCode: config.ErrorInvalidDestination},
		{name: "program derived address", body: fmt.Sprintf(`{"destination":%q}`, offCurveAddress(t)), wantCode: config.ErrorInvalidDestination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postConsolidate(handler, "", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400. body: %s", w.Code, w.Body.String())
			}
			if e := decodeError(t, w); e.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", e.Code, tt.wantCode)
			}
		})
	}
}

func TestStartConsolidation_Wait(t *testing.T) {
	dest := newAddress()
	runner := &mockRunner{runFn: func(_ context.Context, d string, toggles models.ClassToggles) (*models.RunSummary, error) {
		if toggles.Coin || !toggles.Token {
			t.Errorf("toggles not passed through: %+v", toggles)
		}
		return &models.RunSummary{
			RunID:       "run-1",
			Destination: d,
			Classes:     []models.ClassOutcome{{Class: models.ClassToken, Status: models.StatusSubmitted, Submitted: 1}},
		}, nil
	}}

	body := fmt.Sprintf(`{"destination":%q,"toggles":{"token":true}}`, dest)
	w := postConsolidate(StartConsolidation(context.Background(), runner), "?wait=true", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200. body: %s", w.Code, w.Body.String())
	}
	var summary models.RunSummary
	decodeData(t, w, &summary)
	if summary.RunID != "run-1" || summary.Destination != dest {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.Classes) != 1 || summary.Classes[0].Status != models.StatusSubmitted {
		t.Errorf("classes = %+v", summary.Classes)
	}
}

func TestStartConsolidation_WaitMapsErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "run in progress", err: fmt.Errorf("%w: owner", config.ErrRunInProgress), wantStatus: http.StatusConflict, wantCode: config.ErrorRunInProgress},
		{name: "cancelled", err: context.Canceled, wantStatus: http.StatusServiceUnavailable, wantCode: config.ErrorRunCancelled},
		{name: "unexpected", err: fmt.Errorf("boom"), wantStatus: http.StatusInternalServerError, wantCode: config.ErrorInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{runFn: func(context.Context, string, models.ClassToggles) (*models.RunSummary, error) {
				return nil, tt.err
			}}
			body := fmt.Sprintf(`{"destination":%q}`, newAddress())
			w := postConsolidate(StartConsolidation(context.Background(), runner), "?wait=true", body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if e := decodeError(t, w); e.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", e.Code, tt.wantCode)
			}
		})
	}
}

func TestStartConsolidation_Background(t *testing.T) {
	type call struct {
		dest    string
		toggles models.ClassToggles
	}
	calls := make(chan call, 1)
	release := make(chan struct{})

	runner := &mockRunner{runFn: func(_ context.Context, d string, toggles models.ClassToggles) (*models.RunSummary, error) {
		calls <- call{dest: d, toggles: toggles}
		<-release
		return &models.RunSummary{RunID: "bg"}, nil
	}}
	handler := StartConsolidation(context.Background(), runner)

	dest := newAddress()
	w := postConsolidate(handler, "", fmt.Sprintf(`{"destination":%q}`, dest))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202. body: %s", w.Code, w.Body.String())
	}

	select {
	case c := <-calls:
		if c.dest != dest {
			t.Errorf("destination = %s, want %s", c.dest, dest)
		}
		if c.toggles != models.AllClasses() {
			t.Errorf("omitted toggles should enable every class, got %+v", c.toggles)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background run never started")
	}

	// A second request while the first is running is refused.
	w = postConsolidate(handler, "", fmt.Sprintf(`{"destination":%q}`, dest))
	if w.Code != http.StatusConflict {
		t.Fatalf("second request status = %d, want 409", w.Code)
	}
	if e := decodeError(t, w); e.Code != config.ErrorRunInProgress {
		t.Errorf("code = %s, want %s", e.Code, config.ErrorRunInProgress)
	}

	close(release)
}

func TestGetRun(t *testing.T) {
	runner := &mockRunner{statusFn: func() models.RunStatus {
		return models.RunStatus{State: models.StateExecuting, RunID: "r-9", Owner: "owner"}
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/run", nil)
	w := httptest.NewRecorder()
	GetRun(runner).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var status models.RunStatus
	decodeData(t, w, &status)
	if status.State != models.StateExecuting || status.RunID != "r-9" {
		t.Errorf("status = %+v", status)
	}
}
