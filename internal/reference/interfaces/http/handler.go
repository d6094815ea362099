package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	reference "reconcile-cloud/internal/reference/domain"
)

// SourceStore is the repository slice the handler needs.
type SourceStore interface {
	ListSources(ctx context.Context, skuID, supplierID string, at time.Time) ([]reference.PriceSource, error)
	AddSource(ctx context.Context, skuID, supplierID string, src reference.PriceSource) error
}

// Handler provides price reference HTTP endpoints.
type Handler struct {
	store SourceStore
}

// NewHandler constructs a handler.
func NewHandler(store SourceStore) (*Handler, error) {
	if store == nil {
		return nil, errors.New("reference handler: nil store")
	}
	return &Handler{store: store}, nil
}

// ServeHTTP handles /api/v1/references.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/references" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleAdd(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type sourceResponse struct {
	Class      string    `json:"class"`
	Value      float64   `json:"value"`
	UOMKey     string    `json:"uom_key,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	SourceHash string    `json:"source_hash,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	skuID := r.URL.Query().Get("sku_id")
	supplierID := r.URL.Query().Get("supplier_id")
	if skuID == "" || supplierID == "" {
		http.Error(w, "sku_id and supplier_id are required", http.StatusBadRequest)
		return
	}
	at := time.Now().UTC()
	if value := r.URL.Query().Get("at"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			http.Error(w, "at must be RFC3339", http.StatusBadRequest)
			return
		}
		at = parsed.UTC()
	}

	sources, err := h.store.ListSources(r.Context(), skuID, supplierID, at)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		response = append(response, sourceResponse{
			Class:      string(src.Class),
			Value:      src.Value,
			UOMKey:     src.UOMKey,
			CapturedAt: src.CapturedAt,
			SourceHash: src.SourceHash,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

type addSourceRequest struct {
	SKUID      string     `json:"sku_id"`
	SupplierID string     `json:"supplier_id"`
	Class      string     `json:"class"`
	Value      float64    `json:"value"`
	UOMKey     string     `json:"uom_key,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	SourceHash string     `json:"source_hash,omitempty"`
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SKUID == "" || req.SupplierID == "" {
		http.Error(w, "sku_id and supplier_id are required", http.StatusBadRequest)
		return
	}
	class, ok := reference.NormalizeSourceClass(req.Class)
	if !ok {
		http.Error(w, "unknown source class", http.StatusBadRequest)
		return
	}
	if req.Value <= 0 {
		http.Error(w, "value must be positive", http.StatusBadRequest)
		return
	}

	src := reference.PriceSource{
		Class:      class,
		Value:      req.Value,
		UOMKey:     req.UOMKey,
		SourceHash: req.SourceHash,
	}
	if req.CapturedAt != nil {
		src.CapturedAt = req.CapturedAt.UTC()
	}
	if err := h.store.AddSource(r.Context(), req.SKUID, req.SupplierID, src); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
