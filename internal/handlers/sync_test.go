package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkarpov/foliosync/internal/config"
	"github.com/mkarpov/foliosync/internal/models"
	"github.com/mkarpov/foliosync/internal/reconciler"
	"github.com/mkarpov/foliosync/internal/utils"
	"github.com/shopspring/decimal"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	cfg := &config.Config{JWTSecret: "test-secret", StoreMode: "memory"}
	rec := reconciler.New(reconciler.NewMemoryStore(), nil)
	router := NewRouter(nil, cfg, rec, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	token, _, err := utils.GenerateTokens(&models.UserAuth{ID: "user-1", Email: "test@example.com"}, cfg.JWTSecret)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	return srv, token
}

func doJSON(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestSyncEndpoints(t *testing.T) {
	srv, token := newTestServer(t)

	upload := models.UploadRequest{
		FundHoldings: []models.Holding{{
			ID:        "f-1",
			Kind:      models.KindFund,
			Code:      "110022",
			Share:     decimal.NewFromInt(100),
			CostPrice: decimal.NewFromInt(1),
			CreatedAt: 1700000000000,
		}},
		DeviceID: "device-a",
	}

	var syncResp models.SyncResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/sync/upload", token, upload, &syncResp); code != http.StatusOK {
		t.Fatalf("Upload returned %d", code)
	}
	if !syncResp.Success {
		t.Fatalf("Upload should succeed, got %+v", syncResp)
	}

	var download models.SyncResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sync/download", token, nil, &download); code != http.StatusOK {
		t.Fatalf("Download returned %d", code)
	}
	if download.Data == nil || len(download.Data.FundHoldings) != 1 {
		t.Errorf("Download should return the uploaded fund, got %+v", download.Data)
	}

	var status models.SyncStatus
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sync/status", token, nil, &status); code != http.StatusOK {
		t.Fatalf("Status returned %d", code)
	}
	if status.FundCount != 1 {
		t.Errorf("Expected fund count 1, got %+v", status)
	}
}

func TestSyncEndpoints_RequireAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sync/download", "", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("Missing token should get 401, got %d", code)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sync/download", "not-a-jwt", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("Garbage token should get 401, got %d", code)
	}
}

func TestSyncUpload_RejectsMalformedChange(t *testing.T) {
	srv, token := newTestServer(t)

	upload := models.UploadRequest{
		Changes: []models.PositionChange{{ID: "f-1", Op: "UPSERT", Target: models.KindFund}},
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/sync/upload", token, upload, nil); code != http.StatusBadRequest {
		t.Errorf("Invalid operation should get 400, got %d", code)
	}
}

func TestBatchEndpoint(t *testing.T) {
	srv, token := newTestServer(t)

	batch := models.BatchRequest{
		StockHoldings: []models.Holding{{
			ID:        "s-1",
			Code:      "600519",
			Share:     decimal.NewFromInt(10),
			CostPrice: decimal.NewFromInt(1700),
			CreatedAt: 1700000000000,
		}},
	}

	var resp models.SyncResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/sync/batch", token, batch, &resp); code != http.StatusOK {
		t.Fatalf("Batch returned %d", code)
	}
	if len(resp.Data.StockHoldings) != 1 {
		t.Errorf("Batch should import the stock, got %+v", resp.Data)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var health map[string]string
	if code := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil, &health); code != http.StatusOK {
		t.Fatalf("Health returned %d", code)
	}
	if health["status"] != "ok" || health["store"] != "memory" {
		t.Errorf("Unexpected health payload: %v", health)
	}
}
