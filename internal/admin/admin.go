// Package admin implements the provider CRUD surface (spec §6 "Admin
// API"). Grounded on original_source/pyllms/src/api/routes.py's
// create_provider/get_providers/get_provider/update_provider/
// delete_provider/toggle_provider handlers, including their exact
// validation checks, adapted from FastAPI route functions into
// chi-compatible http.HandlerFuncs over internal/provider.Registry.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mihaisavezi/claude-code-open/internal/apierror"
	"github.com/mihaisavezi/claude-code-open/internal/provider"
)

// Handlers holds the dependencies the admin routes need.
type Handlers struct {
	Registry *provider.Registry
}

func New(reg *provider.Registry) *Handlers {
	return &Handlers{Registry: reg}
}

// Mount registers the provider CRUD routes onto r at the fixed paths
// "/providers" and "/providers/{id}" (plus "/providers/{id}/toggle").
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/providers", h.create)
	r.Get("/providers", h.list)
	r.Get("/providers/{id}", h.get)
	r.Put("/providers/{id}", h.update)
	r.Delete("/providers/{id}", h.delete)
	r.Patch("/providers/{id}/toggle", h.toggle)
}

type registerRequest struct {
	Name    string   `json:"name"`
	BaseURL string   `json:"base_url"`
	APIKey  string   `json:"api_key"`
	Models  []string `json:"models"`
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidRequest, "Provider name is required")
		return
	}
	if req.BaseURL == "" || !isValidURL(req.BaseURL) {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidRequest, "Valid base URL is required")
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidRequest, "API key is required")
		return
	}
	if len(req.Models) == 0 {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidRequest, "At least one model is required")
		return
	}

	p := &provider.Provider{
		Name:        req.Name,
		BaseURL:     req.BaseURL,
		APIKey:      req.APIKey,
		Models:      req.Models,
		ModelChains: map[string]provider.Chain{},
	}
	if err := h.Registry.Register(p); err != nil {
		if errors.Is(err, provider.ErrAlreadyExists) {
			apierror.Write(w, http.StatusBadRequest, "provider_exists", "Provider with name '"+req.Name+"' already exists")
			return
		}
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.List())
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.Registry.Get(id)
	if !ok {
		apierror.Write(w, http.StatusNotFound, apierror.CodeProviderNotFound, "Provider '"+id+"' not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var updates map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidRequest, "invalid JSON body")
		return
	}

	p, err := h.Registry.Update(id, func(p *provider.Provider) {
		if v, ok := updates["base_url"]; ok {
			json.Unmarshal(v, &p.BaseURL)
		}
		if v, ok := updates["api_key"]; ok {
			json.Unmarshal(v, &p.APIKey)
		}
		if v, ok := updates["models"]; ok {
			json.Unmarshal(v, &p.Models)
		}
	})
	if err != nil {
		apierror.Write(w, http.StatusNotFound, apierror.CodeProviderNotFound, "Provider '"+id+"' not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Registry.Delete(id); err != nil {
		apierror.Write(w, http.StatusNotFound, apierror.CodeProviderNotFound, "Provider '"+id+"' not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Provider deleted successfully"})
}

func (h *Handlers) toggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Enabled bool `json:"enabled"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	if err := h.Registry.Toggle(id, body.Enabled); err != nil {
		apierror.Write(w, http.StatusNotFound, apierror.CodeProviderNotFound, "Provider '"+id+"' not found")
		return
	}

	state := "disabled"
	if body.Enabled {
		state = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Provider " + state + " successfully"})
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
