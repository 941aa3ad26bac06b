package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/maltedev/shop-monitor/internal/captcha"
	"github.com/maltedev/shop-monitor/internal/database"
	"github.com/maltedev/shop-monitor/internal/models"
	"github.com/maltedev/shop-monitor/internal/scraper"
)

// Handlers is the thin REST adapter over the core's scrape/list/delete
// operations. Scraping errors never leak raw; a follow that cannot be
// registered yet returns 404 with no body.
type Handlers struct {
	stores      *scraper.StoreScraper
	departments *scraper.DepartmentScraper
	products    *scraper.ProductScraper
	storeRepo   *database.StoreRepository
	deptRepo    *database.DepartmentRepository
	productRepo *database.ProductRepository
	captcha     *captcha.Resolver
	logger      *slog.Logger
}

func NewHandlers(
	stores *scraper.StoreScraper, departments *scraper.DepartmentScraper, products *scraper.ProductScraper,
	storeRepo *database.StoreRepository, deptRepo *database.DepartmentRepository, productRepo *database.ProductRepository,
	resolver *captcha.Resolver, logger *slog.Logger,
) *Handlers {
	return &Handlers{
		stores:      stores,
		departments: departments,
		products:    products,
		storeRepo:   storeRepo,
		deptRepo:    deptRepo,
		productRepo: productRepo,
		captcha:     resolver,
		logger:      logger.With("component", "api"),
	}
}

func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
	}))

	r.Get("/healthz", h.Health)
	r.Get("/api/captcha/stats", h.CaptchaStats)

	r.Route("/api/{kind}", func(r chi.Router) {
		r.Post("/", h.Follow)
		r.Get("/", h.List)
		r.Delete("/{id}", h.Delete)
	})

	return r
}

type followRequest struct {
	URL string `json:"url"`
}

// Follow scrapes the URL and upserts the result: the user's opt-in to
// polling an entity.
func (h *Handlers) Follow(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "unknown entity kind")
		return
	}

	var req followRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	entity, err := h.scrapeAndUpsert(r.Context(), kind, req.URL)
	if err != nil {
		h.logger.Error("follow failed", "kind", kind, "url", req.URL, "error", err)
		h.respondError(w, http.StatusInternalServerError, "persistence failed")
		return
	}
	if entity == nil {
		// Could not be registered yet; the scrape came back empty.
		w.WriteHeader(http.StatusNotFound)
		return
	}

	h.respondJSON(w, http.StatusCreated, entity)
}

func (h *Handlers) scrapeAndUpsert(ctx context.Context, kind models.EntityKind, url string) (interface{}, error) {
	switch kind {
	case models.KindStore:
		s, err := h.stores.Get(ctx, url, false)
		if err != nil || s == nil {
			return nil, err
		}
		if existing, err := h.storeRepo.GetByURL(ctx, s.URL); err == nil && existing != nil {
			s.ID, s.Added, s.IsEnabled, s.Read = existing.ID, existing.Added, existing.IsEnabled, existing.Read
		}
		return s, h.storeRepo.Save(ctx, s)
	case models.KindDepartment:
		d, err := h.departments.Get(ctx, url, false, nil)
		if err != nil || d == nil {
			return nil, err
		}
		if existing, err := h.deptRepo.GetByURL(ctx, d.URL); err == nil && existing != nil {
			d.ID, d.Added, d.IsEnabled, d.Read = existing.ID, existing.Added, existing.IsEnabled, existing.Read
		}
		return d, h.deptRepo.Save(ctx, d)
	default:
		p, err := h.products.Get(ctx, url, false, nil, nil, nil)
		if err != nil || p == nil {
			return nil, err
		}
		if existing, err := h.productRepo.GetByURL(ctx, p.URL); err == nil && existing != nil {
			p.ID, p.Added, p.IsEnabled, p.Read = existing.ID, existing.Added, existing.IsEnabled, existing.Read
		}
		return p, h.productRepo.Save(ctx, p)
	}
}

// List returns all persisted entities of a kind and bumps their read
// timestamps as a side effect owned by this layer.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "unknown entity kind")
		return
	}

	ctx := r.Context()
	switch kind {
	case models.KindStore:
		stores, err := h.storeRepo.ListAll(ctx)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "listing failed")
			return
		}
		h.touch(ctx, storeIDs(stores), h.storeRepo.TouchRead)
		h.respondJSON(w, http.StatusOK, stores)
	case models.KindDepartment:
		departments, err := h.deptRepo.ListAll(ctx)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "listing failed")
			return
		}
		h.touch(ctx, departmentIDs(departments), h.deptRepo.TouchRead)
		h.respondJSON(w, http.StatusOK, departments)
	default:
		products, err := h.productRepo.ListAll(ctx)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "listing failed")
			return
		}
		h.touch(ctx, productIDs(products), h.productRepo.TouchRead)
		h.respondJSON(w, http.StatusOK, products)
	}
}

// Delete is the user-initiated unfollow; the pollers never hard-delete.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "unknown entity kind")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid id")
		return
	}

	switch kind {
	case models.KindStore:
		err = h.storeRepo.Delete(r.Context(), id)
	case models.KindDepartment:
		err = h.deptRepo.Delete(r.Context(), id)
	default:
		err = h.productRepo.Delete(r.Context(), id)
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CaptchaStats exposes the external solver's accuracy telemetry.
func (h *Handlers) CaptchaStats(w http.ResponseWriter, _ *http.Request) {
	stats := h.captcha.Stats()
	h.respondJSON(w, http.StatusOK, map[string]int{
		"shown":    stats.Shown,
		"solved":   stats.Solved,
		"rejected": stats.Rejected,
	})
}

func (h *Handlers) touch(ctx context.Context, ids []int64, touch func(context.Context, []int64) error) {
	if len(ids) == 0 {
		return
	}
	if err := touch(ctx, ids); err != nil {
		h.logger.Warn("failed to bump read timestamps", "error", err)
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}

func parseKind(s string) (models.EntityKind, bool) {
	switch models.EntityKind(s) {
	case models.KindStore, models.KindDepartment, models.KindProduct:
		return models.EntityKind(s), true
	}
	return "", false
}

func storeIDs(stores []*models.Store) []int64 {
	ids := make([]int64, 0, len(stores))
	for _, s := range stores {
		ids = append(ids, s.ID)
	}
	return ids
}

func departmentIDs(departments []*models.Department) []int64 {
	ids := make([]int64, 0, len(departments))
	for _, d := range departments {
		ids = append(ids, d.ID)
	}
	return ids
}

func productIDs(products []*models.Product) []int64 {
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return ids
}
