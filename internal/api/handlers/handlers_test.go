package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/models"
)

type mockReader struct {
	discoverFn func(ctx context.Context, owner solana.PublicKey) (*models.Holdings, error)
}

func (m *mockReader) Discover(ctx context.Context, owner solana.PublicKey) (*models.Holdings, error) {
	return m.discoverFn(ctx, owner)
}

type mockRunner struct {
	runFn    func(ctx context.Context, destination string, toggles models.ClassToggles) (*models.RunSummary, error)
	statusFn func() models.RunStatus
}

func (m *mockRunner) RunConsolidation(ctx context.Context, destination string, toggles models.ClassToggles) (*models.RunSummary, error) {
	return m.runFn(ctx, destination, toggles)
}

func (m *mockRunner) Status() models.RunStatus {
	if m.statusFn == nil {
		return models.RunStatus{State: models.StateIdle}
	}
	return m.statusFn()
}

func newAddress() string {
	return solana.NewWallet().PublicKey().String()
}

// decodeData unmarshals the data field of an APIResponse envelope into out.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse response: %v (body %s)", err, w.Body.String())
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.APIErrorDetail {
	t.Helper()
	var resp models.APIError
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error response: %v (body %s)", err, w.Body.String())
	}
	return resp.Error
}
