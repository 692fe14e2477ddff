package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/recipebox/apiserver/internal/services"
	"github.com/recipebox/apiserver/internal/store"
	"github.com/recipebox/apiserver/types"
	"github.com/shopspring/decimal"
)

const (
	maxMultipartMemory = 32 << 20
	maxImageBytes      = 20 << 20
	formFieldImage     = "image"
)

// RecipeHandler provides HTTP handlers for recipes.
type RecipeHandler struct {
	service *services.RecipeService
}

// NewRecipeHandler constructs a handler with the provided service.
func NewRecipeHandler(service *services.RecipeService) *RecipeHandler {
	return &RecipeHandler{service: service}
}

// RecipeRouter registers recipe routes on the given router.
func RecipeRouter(r chi.Router, service *services.RecipeService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewRecipeHandler(service)

	r.Use(authMiddleware)
	r.Get("/", handler.ListRecipes)
	r.Post("/", handler.CreateRecipe)
	r.Route("/{recipeID}", func(r chi.Router) {
		r.Get("/", handler.GetRecipe)
		r.Patch("/", handler.PatchRecipe)
		r.Put("/", handler.PutRecipe)
		r.Delete("/", handler.DeleteRecipe)
		r.Post("/upload-image", handler.UploadImage)
	})
}

// RecipeResponse is the list representation: scalars plus association IDs.
type RecipeResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	TimeMin     int     `json:"time_min"`
	Price       string  `json:"price"`
	Link        string  `json:"link"`
	ImagePath   string  `json:"image_path"`
	Tags        []int64 `json:"tags"`
	Ingredients []int64 `json:"ingredients"`
}

// RecipeDetailResponse is the detail representation: scalars plus fully
// nested tag and ingredient objects.
type RecipeDetailResponse struct {
	ID          int64               `json:"id"`
	Title       string              `json:"title"`
	TimeMin     int                 `json:"time_min"`
	Price       string              `json:"price"`
	Link        string              `json:"link"`
	ImagePath   string              `json:"image_path"`
	Tags        []AttributeResponse `json:"tags"`
	Ingredients []AttributeResponse `json:"ingredients"`
}

// RecipeUpsertRequest is the JSON payload for creates and updates. Nil
// fields were absent from the payload; associations are ID lists only.
type RecipeUpsertRequest struct {
	Title       *string          `json:"title"`
	TimeMin     *int             `json:"time_min"`
	Price       *decimal.Decimal `json:"price"`
	Link        *string          `json:"link"`
	Tags        *[]int64         `json:"tags"`
	Ingredients *[]int64         `json:"ingredients"`
}

func (h *RecipeHandler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var filter store.RecipeFilter
	fields := map[string]string{}
	if filter.TagIDs, err = parseIDList(r.URL.Query().Get("tags")); err != nil {
		fields["tags"] = "must be a comma-separated list of ids"
	}
	if filter.IngredientIDs, err = parseIDList(r.URL.Query().Get("ingredients")); err != nil {
		fields["ingredients"] = "must be a comma-separated list of ids"
	}
	if len(fields) > 0 {
		writeFieldErrors(w, fields)
		return
	}

	recipes, err := h.service.List(r.Context(), userID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list recipes")
		return
	}

	resp := make([]RecipeResponse, 0, len(recipes))
	for _, recipe := range recipes {
		resp = append(resp, toRecipeResponse(recipe))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RecipeHandler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseRecipeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recipe, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipe not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch recipe")
		return
	}

	writeJSON(w, http.StatusOK, toRecipeDetailResponse(recipe))
}

func (h *RecipeHandler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RecipeUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if fields := validateRecipePayload(&req, true); len(fields) > 0 {
		writeFieldErrors(w, fields)
		return
	}

	recipe := types.Recipe{
		UserID:  userID,
		Title:   *req.Title,
		TimeMin: *req.TimeMin,
		Price:   *req.Price,
	}
	if req.Link != nil {
		recipe.Link = *req.Link
	}

	created, err := h.service.Create(r.Context(), recipe, idsOrEmpty(req.Tags), idsOrEmpty(req.Ingredients))
	if err != nil {
		if errors.Is(err, store.ErrUnknownAttribute) {
			writeFieldErrors(w, map[string]string{"tags": "unknown tag or ingredient id", "ingredients": "unknown tag or ingredient id"})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create recipe")
		return
	}

	writeJSON(w, http.StatusCreated, toRecipeResponse(created))
}

// PatchRecipe updates only the provided fields. An association key present
// in the payload replaces the set entirely; an absent key leaves it alone.
func (h *RecipeHandler) PatchRecipe(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// PutRecipe replaces the whole resource: core scalar fields are required
// and an absent association key clears the set.
func (h *RecipeHandler) PutRecipe(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *RecipeHandler) update(w http.ResponseWriter, r *http.Request, full bool) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseRecipeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req RecipeUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if fields := validateRecipePayload(&req, full); len(fields) > 0 {
		writeFieldErrors(w, fields)
		return
	}

	patch := store.RecipePatch{
		Title:         req.Title,
		TimeMin:       req.TimeMin,
		Price:         req.Price,
		Link:          req.Link,
		TagIDs:        req.Tags,
		IngredientIDs: req.Ingredients,
	}
	if full {
		// Full replacement: a missing association key means "no
		// associations", not "keep the current ones".
		if patch.TagIDs == nil {
			patch.TagIDs = &[]int64{}
		}
		if patch.IngredientIDs == nil {
			patch.IngredientIDs = &[]int64{}
		}
	}

	updated, err := h.service.Update(r.Context(), userID, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "recipe not found")
		case errors.Is(err, store.ErrUnknownAttribute):
			writeFieldErrors(w, map[string]string{"tags": "unknown tag or ingredient id", "ingredients": "unknown tag or ingredient id"})
		default:
			writeError(w, http.StatusInternalServerError, "failed to update recipe")
		}
		return
	}

	writeJSON(w, http.StatusOK, toRecipeResponse(updated))
}

func (h *RecipeHandler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseRecipeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipe not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete recipe")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *RecipeHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseRecipeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	data, err := imageFromForm(r)
	if err != nil {
		writeFieldErrors(w, map[string]string{formFieldImage: err.Error()})
		return
	}

	recipe, err := h.service.UploadImage(r.Context(), userID, id, data)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidImage):
			writeFieldErrors(w, map[string]string{formFieldImage: "not a valid image"})
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "recipe not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to store image")
		}
		return
	}

	writeJSON(w, http.StatusOK, toRecipeDetailResponse(recipe))
}

func toRecipeResponse(recipe types.Recipe) RecipeResponse {
	return RecipeResponse{
		ID:          recipe.ID,
		Title:       recipe.Title,
		TimeMin:     recipe.TimeMin,
		Price:       recipe.Price.StringFixed(2),
		Link:        recipe.Link,
		ImagePath:   recipe.ImagePath,
		Tags:        recipe.TagIDs(),
		Ingredients: recipe.IngredientIDs(),
	}
}

func toRecipeDetailResponse(recipe types.Recipe) RecipeDetailResponse {
	tags := make([]AttributeResponse, 0, len(recipe.Tags))
	for _, tag := range recipe.Tags {
		tags = append(tags, AttributeResponse{ID: tag.ID, Name: tag.Name})
	}
	ingredients := make([]AttributeResponse, 0, len(recipe.Ingredients))
	for _, ingredient := range recipe.Ingredients {
		ingredients = append(ingredients, AttributeResponse{ID: ingredient.ID, Name: ingredient.Name})
	}
	return RecipeDetailResponse{
		ID:          recipe.ID,
		Title:       recipe.Title,
		TimeMin:     recipe.TimeMin,
		Price:       recipe.Price.StringFixed(2),
		Link:        recipe.Link,
		ImagePath:   recipe.ImagePath,
		Tags:        tags,
		Ingredients: ingredients,
	}
}

// validateRecipePayload checks the provided fields; with requireCore set,
// title, time_min, and price must all be present.
func validateRecipePayload(req *RecipeUpsertRequest, requireCore bool) map[string]string {
	fields := map[string]string{}

	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		*req.Title = trimmed
		if trimmed == "" {
			fields["title"] = "title must not be empty"
		}
	} else if requireCore {
		fields["title"] = "title is required"
	}

	if req.TimeMin != nil {
		if *req.TimeMin < 0 {
			fields["time_min"] = "time_min must not be negative"
		}
	} else if requireCore {
		fields["time_min"] = "time_min is required"
	}

	if req.Price != nil {
		if req.Price.IsNegative() {
			fields["price"] = "price must not be negative"
		} else if req.Price.Exponent() < -2 {
			fields["price"] = "price must have at most two decimal places"
		}
	} else if requireCore {
		fields["price"] = "price is required"
	}

	return fields
}

func idsOrEmpty(ids *[]int64) []int64 {
	if ids == nil {
		return nil
	}
	return *ids
}

func parseRecipeID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "recipeID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid recipe id")
	}
	return id, nil
}

func imageFromForm(r *http.Request) ([]byte, error) {
	if r.MultipartForm == nil {
		return nil, errors.New("missing form data")
	}

	files := r.MultipartForm.File[formFieldImage]
	if len(files) == 0 {
		return nil, errors.New("image file is required")
	}
	if len(files) > 1 {
		return nil, errors.New("only one image file is allowed")
	}

	file, err := files[0].Open()
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	defer file.Close()

	limited := io.LimitReader(file, maxImageBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > maxImageBytes {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
