package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zenithfresh/thawplan/internal/allocation"
	"github.com/zenithfresh/thawplan/internal/domain/batches"
	"github.com/zenithfresh/thawplan/internal/domain/days"
	"github.com/zenithfresh/thawplan/internal/domain/products"
	"github.com/zenithfresh/thawplan/internal/domain/sales"
	"github.com/zenithfresh/thawplan/internal/flow"
	"github.com/zenithfresh/thawplan/internal/replenishment"
	"github.com/zenithfresh/thawplan/internal/sheets"
)

const maxUpload = 10 << 20

// Service is what the API needs from the replenishment service.
type Service interface {
	ConfigureProduct(ctx context.Context, sku string, shelfLifeDays int, maxCapacity float64) (*products.Product, error)
	ListProducts(ctx context.Context) ([]products.Product, error)
	RunDailyFlow(ctx context.Context, sku string, date time.Time) (*flow.Report, error)
	RunAll(ctx context.Context, date time.Time) ([]replenishment.Outcome, error)
	RecordSale(ctx context.Context, sku string, date time.Time, requested float64) (allocation.Result, error)
	GetBatches(ctx context.Context, sku string) (batches.Summary, error)
	Availability(ctx context.Context, sku string, date time.Time) (batches.Metrics, error)
	ImportSales(ctx context.Context, rows []sales.Record) (replenishment.ImportResult, error)
	DailyReport(ctx context.Context, date time.Time) (*replenishment.DailyReport, error)
}

type Handler struct {
	log *slog.Logger
	svc Service
	loc *time.Location
	now func() time.Time
}

func NewHandler(log *slog.Logger, svc Service, loc *time.Location) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{log: log, svc: svc, loc: loc, now: time.Now}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("POST /api/products/{sku}", h.configureProduct)
	mux.HandleFunc("POST /api/flows", h.runAll)
	mux.HandleFunc("POST /api/flows/{sku}", h.runFlow)
	mux.HandleFunc("POST /api/sales/import", h.importSales)
	mux.HandleFunc("POST /api/sales/{sku}", h.recordSale)
	mux.HandleFunc("GET /api/batches/{sku}", h.getBatches)
	mux.HandleFunc("GET /api/availability/{sku}", h.availability)
	mux.HandleFunc("GET /api/reports/daily", h.dailyReport)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListProducts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]productDTO, 0, len(list))
	for _, p := range list {
		out = append(out, toProduct(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) configureProduct(w http.ResponseWriter, r *http.Request) {
	var req productDTO
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.ConfigureProduct(r.Context(), r.PathValue("sku"), req.ShelfLifeDays, req.MaxCapacity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(*p))
}

func (h *Handler) runFlow(w http.ResponseWriter, r *http.Request) {
	date, err := h.date(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rep, err := h.svc.RunDailyFlow(r.Context(), r.PathValue("sku"), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlow(rep))
}

func (h *Handler) runAll(w http.ResponseWriter, r *http.Request) {
	date, err := h.date(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	outcomes, err := h.svc.RunAll(r.Context(), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomes(outcomes))
}

// recordSale answers 201 when anything was sold and 404 when there was no stock at all.
func (h *Handler) recordSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := h.date(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sku := r.PathValue("sku")
	res, err := h.svc.RecordSale(r.Context(), sku, date, req.Kg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Fulfilled <= batches.Epsilon {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no stock", "sale": toSale(sku, date, res)})
		return
	}
	writeJSON(w, http.StatusCreated, toSale(sku, date, res))
}

func (h *Handler) getBatches(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.GetBatches(r.Context(), r.PathValue("sku"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(sum))
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	date, err := h.date(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sku := r.PathValue("sku")
	m, err := h.svc.Availability(r.Context(), sku, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityDTO{
		SKU:             sku,
		Date:            days.Format(date),
		Available:       kg(m.Available),
		ThawingTomorrow: kg(m.ThawingTomorrow),
		MaxAge:          m.MaxAge,
	})
}

// importSales takes a multipart upload in the "file" field, xlsx or csv.
func (h *Handler) importSales(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing file"))
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	rows, err := sheets.ReadSales(hdr.Filename, data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.ImportSales(r.Context(), rows)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := importDTO{Imported: res.Imported, Rejected: make([]string, 0, len(res.Rejected))}
	for _, re := range res.Rejected {
		out.Rejected = append(out.Rejected, fmt.Sprintf("row %d: %v", re.Row, re.Err))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) dailyReport(w http.ResponseWriter, r *http.Request) {
	date, err := h.date(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rep, err := h.svc.DailyReport(r.Context(), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	buf, err := sheets.DailyReport(rep)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report_%s.xlsx"`, days.Format(date)))
	_, _ = w.Write(buf.Bytes())
}

// date parses s, defaulting to today in the business timezone.
func (h *Handler) date(s string) (time.Time, error) {
	if s == "" {
		return days.Today(h.now(), h.loc), nil
	}
	return days.Parse(s)
}

var errBadBody = errors.New("invalid request body")

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status < http.StatusInternalServerError {
		writeJSON(w, status, errorBody(err.Error()))
		return
	}
	h.log.Error("api request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	var se *flow.StepError
	if errors.As(err, &se) {
		writeJSON(w, status, map[string]any{"error": "daily flow failed", "step": se.Step})
		return
	}
	writeJSON(w, status, errorBody("internal error"))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, products.ErrInvalidSKU),
		errors.Is(err, products.ErrInvalidShelfLife),
		errors.Is(err, products.ErrInvalidCapacity),
		errors.Is(err, days.ErrInvalidDate),
		errors.Is(err, allocation.ErrInvalidQuantity),
		errors.Is(err, batches.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, replenishment.ErrUnknownProduct):
		return http.StatusNotFound
	case errors.Is(err, replenishment.ErrAlreadyRan):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(msg string) map[string]string { return map[string]string{"error": msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
