package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/recipebox/apiserver/internal/services"
)

// AttributeHandler serves tag and ingredient endpoints. Both resources have
// the same surface (owner-scoped list with assigned_only, create by name),
// so one handler parameterized by service and label covers them.
type AttributeHandler struct {
	service  *services.AttributeService
	resource string
}

func NewAttributeHandler(service *services.AttributeService, resource string) *AttributeHandler {
	return &AttributeHandler{service: service, resource: resource}
}

// TagRouter registers tag routes on the given router.
func TagRouter(r chi.Router, service *services.AttributeService, authMiddleware func(http.Handler) http.Handler) {
	attributeRouter(r, NewAttributeHandler(service, "tag"), authMiddleware)
}

// IngredientRouter registers ingredient routes on the given router.
func IngredientRouter(r chi.Router, service *services.AttributeService, authMiddleware func(http.Handler) http.Handler) {
	attributeRouter(r, NewAttributeHandler(service, "ingredient"), authMiddleware)
}

func attributeRouter(r chi.Router, handler *AttributeHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.Get("/", handler.List)
	r.Post("/", handler.Create)
}

// AttributeResponse is the external representation of a tag or ingredient.
type AttributeResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CreateAttributeRequest is the create payload for tags and ingredients.
type CreateAttributeRequest struct {
	Name string `json:"name"`
}

func (h *AttributeHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	assignedOnly := truthyParam(r.URL.Query().Get("assigned_only"))

	attrs, err := h.service.List(r.Context(), userID, assignedOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list "+h.resource+"s")
		return
	}

	resp := make([]AttributeResponse, 0, len(attrs))
	for _, attr := range attrs {
		resp = append(resp, AttributeResponse{ID: attr.ID, Name: attr.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AttributeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateAttributeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeFieldErrors(w, map[string]string{"name": "name is required"})
		return
	}

	attr, err := h.service.Create(r.Context(), userID, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create "+h.resource)
		return
	}

	writeJSON(w, http.StatusCreated, AttributeResponse{ID: attr.ID, Name: attr.Name})
}
