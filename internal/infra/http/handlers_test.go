package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/forecast"
	"github.com/zenithfresh/thawplan/internal/replenishment"
	"github.com/zenithfresh/thawplan/internal/storage/memory"
)

type stubForecast struct{}

func (stubForecast) Forecast(context.Context, []sales.Record, time.Time) forecast.Result {
	return forecast.Result{Demand: 34, RecentAverage: 100, Method: forecast.MethodHoltWinters}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := replenishment.New(memory.New(), nil, replenishment.Options{Forecaster: stubForecast{}})
	srv := httptest.NewServer(New(":0", false, NewHandler(nil, svc, time.UTC)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := do(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
}

func TestConfigureProduct(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name string
		sku  string
		body string
		want int
	}{
		{"ok", "PICANHA", `{"shelf_life_days": 4, "max_capacity": 120}`, http.StatusOK},
		{"bad shelf life", "PICANHA", `{"shelf_life_days": 0, "max_capacity": 120}`, http.StatusBadRequest},
		{"bad sku", "a%20b", `{"shelf_life_days": 4, "max_capacity": 120}`, http.StatusBadRequest},
		{"bad body", "PICANHA", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+"/api/products/"+tt.sku, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("want %d, got %d (%v)", tt.want, resp.StatusCode, body)
			}
		})
	}
}

func TestFlowAndSales(t *testing.T) {
	srv := newTestServer(t)
	do(t, http.MethodPost, srv.URL+"/api/products/A", `{"shelf_life_days": 4, "max_capacity": 120}`)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/flows/NOPE?date=2024-07-01", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown product: want 404, got %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/api/flows/A?date=2024-07-01", "")
	if resp.StatusCode != http.StatusOK || body["withdrawal"].(float64) != 40 || body["step"] != "done" {
		t.Fatalf("flow: %d %v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/flows/A?date=2024-07-01", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second flow: want 409, got %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/api/sales/A", `{"kg": 5, "date": "2024-07-01"}`)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "no stock" {
		t.Fatalf("sale while thawing: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/api/sales/A", `{"kg": 50, "date": "2024-07-03"}`)
	if resp.StatusCode != http.StatusCreated || body["fulfilled"].(float64) != 34 || body["shortfall"].(float64) != 16 {
		t.Fatalf("sale: %d %v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/sales/A", `{"kg": -1, "date": "2024-07-03"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative sale: want 400, got %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/sales/A", `{"kg": 1, "date": "03/07/2024"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad date: want 400, got %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/batches/A", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batches: %d", resp.StatusCode)
	}
	metrics := body["metrics"].(map[string]any)
	if metrics["count"].(float64) != 1 || metrics["total_initial"].(float64) != 34 {
		t.Fatalf("unexpected batch metrics %v", metrics)
	}
}

func TestImportSales(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "history.csv")
	_, _ = fw.Write([]byte("date,sku,kg\n2024-01-01,A,3\n2024-01-02,bad sku,4\n"))
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/sales/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out importDTO
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || out.Imported != 1 || len(out.Rejected) != 1 {
		t.Fatalf("import: %d %+v", resp.StatusCode, out)
	}
}

func TestDailyReportDownload(t *testing.T) {
	srv := newTestServer(t)
	do(t, http.MethodPost, srv.URL+"/api/products/A", `{"shelf_life_days": 4, "max_capacity": 120}`)
	do(t, http.MethodPost, srv.URL+"/api/flows?date=2024-07-01", "")

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/reports/daily?date=2024-07-01", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "report_2024-07-01.xlsx") {
		t.Fatalf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}
}
