package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/recipebox/apiserver/internal/services"
	"github.com/recipebox/apiserver/internal/store"
	"github.com/recipebox/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testJWTSecret = "handlers-test-secret"

// memory is an in-memory stand-in for the postgres store, shared by the
// per-interface fakes below so ownership and association semantics hold
// across repositories.
type memory struct {
	mu sync.Mutex

	users        map[int64]types.User
	usersByEmail map[string]int64
	nextUserID   int64

	attrs      map[string]map[int64]store.Attribute
	nextAttrID int64

	recipes           map[int64]types.Recipe
	recipeTags        map[int64]map[int64]struct{}
	recipeIngredients map[int64]map[int64]struct{}
	nextRecipeID      int64
}

func newMemory() *memory {
	return &memory{
		users:             map[int64]types.User{},
		usersByEmail:      map[string]int64{},
		attrs:             map[string]map[int64]store.Attribute{"tag": {}, "ingredient": {}},
		recipes:           map[int64]types.Recipe{},
		recipeTags:        map[int64]map[int64]struct{}{},
		recipeIngredients: map[int64]map[int64]struct{}{},
	}
}

type memoryUsers struct{ m *memory }

func (r *memoryUsers) GetByID(_ context.Context, id int64) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	user, ok := r.m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memoryUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	id, ok := r.m.usersByEmail[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return r.m.users[id], nil
}

func (r *memoryUsers) Create(_ context.Context, user types.User) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.usersByEmail[user.Email]; ok {
		return types.User{}, store.ErrDuplicate
	}
	r.m.nextUserID++
	user.ID = r.m.nextUserID
	r.m.users[user.ID] = user
	r.m.usersByEmail[user.Email] = user.ID
	return user, nil
}

func (r *memoryUsers) Update(_ context.Context, user types.User) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	r.m.users[user.ID] = user
	return user, nil
}

type memoryAttrs struct {
	m    *memory
	kind string
}

func (r *memoryAttrs) links(recipeID int64) map[int64]struct{} {
	if r.kind == "tag" {
		return r.m.recipeTags[recipeID]
	}
	return r.m.recipeIngredients[recipeID]
}

func (r *memoryAttrs) List(_ context.Context, userID int64, assignedOnly bool) ([]store.Attribute, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	assigned := map[int64]struct{}{}
	for recipeID := range r.m.recipes {
		for id := range r.links(recipeID) {
			assigned[id] = struct{}{}
		}
	}

	attrs := make([]store.Attribute, 0)
	for _, attr := range r.m.attrs[r.kind] {
		if attr.UserID != userID {
			continue
		}
		if assignedOnly {
			if _, ok := assigned[attr.ID]; !ok {
				continue
			}
		}
		attrs = append(attrs, attr)
	}
	sort.Slice(attrs, func(i, j int) bool {
		if attrs[i].Name != attrs[j].Name {
			return attrs[i].Name > attrs[j].Name
		}
		return attrs[i].ID > attrs[j].ID
	})
	return attrs, nil
}

func (r *memoryAttrs) Create(_ context.Context, userID int64, name string) (store.Attribute, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextAttrID++
	attr := store.Attribute{ID: r.m.nextAttrID, UserID: userID, Name: name}
	r.m.attrs[r.kind][attr.ID] = attr
	return attr, nil
}

type memoryRecipes struct{ m *memory }

func (r *memoryRecipes) resolve(kind string, userID int64, ids []int64) (map[int64]struct{}, error) {
	set := map[int64]struct{}{}
	for _, id := range ids {
		attr, ok := r.m.attrs[kind][id]
		if !ok || attr.UserID != userID {
			return nil, store.ErrUnknownAttribute
		}
		set[id] = struct{}{}
	}
	return set, nil
}

func (r *memoryRecipes) load(recipe types.Recipe) types.Recipe {
	recipe.Tags = []types.Tag{}
	recipe.Ingredients = []types.Ingredient{}
	for id := range r.m.recipeTags[recipe.ID] {
		attr := r.m.attrs["tag"][id]
		recipe.Tags = append(recipe.Tags, types.Tag{ID: attr.ID, UserID: attr.UserID, Name: attr.Name})
	}
	for id := range r.m.recipeIngredients[recipe.ID] {
		attr := r.m.attrs["ingredient"][id]
		recipe.Ingredients = append(recipe.Ingredients, types.Ingredient{ID: attr.ID, UserID: attr.UserID, Name: attr.Name})
	}
	sort.Slice(recipe.Tags, func(i, j int) bool { return recipe.Tags[i].Name > recipe.Tags[j].Name })
	sort.Slice(recipe.Ingredients, func(i, j int) bool { return recipe.Ingredients[i].Name > recipe.Ingredients[j].Name })
	return recipe
}

func (r *memoryRecipes) List(_ context.Context, userID int64, filter store.RecipeFilter) ([]types.Recipe, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	matches := func(linked map[int64]struct{}, wanted []int64) bool {
		if len(wanted) == 0 {
			return true
		}
		for _, id := range wanted {
			if _, ok := linked[id]; ok {
				return true
			}
		}
		return false
	}

	recipes := make([]types.Recipe, 0)
	for _, recipe := range r.m.recipes {
		if recipe.UserID != userID {
			continue
		}
		if !matches(r.m.recipeTags[recipe.ID], filter.TagIDs) {
			continue
		}
		if !matches(r.m.recipeIngredients[recipe.ID], filter.IngredientIDs) {
			continue
		}
		recipes = append(recipes, r.load(recipe))
	}
	sort.Slice(recipes, func(i, j int) bool { return recipes[i].ID < recipes[j].ID })
	return recipes, nil
}

func (r *memoryRecipes) Get(_ context.Context, userID, id int64) (types.Recipe, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	recipe, ok := r.m.recipes[id]
	if !ok || recipe.UserID != userID {
		return types.Recipe{}, store.ErrNotFound
	}
	return r.load(recipe), nil
}

func (r *memoryRecipes) Create(_ context.Context, recipe types.Recipe, tagIDs, ingredientIDs []int64) (types.Recipe, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	tags, err := r.resolve("tag", recipe.UserID, tagIDs)
	if err != nil {
		return types.Recipe{}, err
	}
	ingredients, err := r.resolve("ingredient", recipe.UserID, ingredientIDs)
	if err != nil {
		return types.Recipe{}, err
	}

	r.m.nextRecipeID++
	recipe.ID = r.m.nextRecipeID
	r.m.recipes[recipe.ID] = recipe
	r.m.recipeTags[recipe.ID] = tags
	r.m.recipeIngredients[recipe.ID] = ingredients
	return r.load(recipe), nil
}

func (r *memoryRecipes) Update(_ context.Context, userID, id int64, patch store.RecipePatch) (types.Recipe, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	recipe, ok := r.m.recipes[id]
	if !ok || recipe.UserID != userID {
		return types.Recipe{}, store.ErrNotFound
	}

	if patch.Title != nil {
		recipe.Title = *patch.Title
	}
	if patch.TimeMin != nil {
		recipe.TimeMin = *patch.TimeMin
	}
	if patch.Price != nil {
		recipe.Price = *patch.Price
	}
	if patch.Link != nil {
		recipe.Link = *patch.Link
	}
	if patch.TagIDs != nil {
		tags, err := r.resolve("tag", userID, *patch.TagIDs)
		if err != nil {
			return types.Recipe{}, err
		}
		r.m.recipeTags[id] = tags
	}
	if patch.IngredientIDs != nil {
		ingredients, err := r.resolve("ingredient", userID, *patch.IngredientIDs)
		if err != nil {
			return types.Recipe{}, err
		}
		r.m.recipeIngredients[id] = ingredients
	}

	r.m.recipes[id] = recipe
	return r.load(recipe), nil
}

func (r *memoryRecipes) Delete(_ context.Context, userID, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	recipe, ok := r.m.recipes[id]
	if !ok || recipe.UserID != userID {
		return store.ErrNotFound
	}
	delete(r.m.recipes, id)
	delete(r.m.recipeTags, id)
	delete(r.m.recipeIngredients, id)
	return nil
}

func (r *memoryRecipes) SetImagePath(_ context.Context, userID, id int64, path string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	recipe, ok := r.m.recipes[id]
	if !ok || recipe.UserID != userID {
		return store.ErrNotFound
	}
	recipe.ImagePath = path
	r.m.recipes[id] = recipe
	return nil
}

// memoryImages records saved objects for upload tests.
type memoryImages struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryImages() *memoryImages {
	return &memoryImages{objects: map[string][]byte{}}
}

func (s *memoryImages) Save(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memoryImages) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type testEnv struct {
	router *chi.Mux
	mem    *memory
	images *memoryImages
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mem := newMemory()
	images := newMemoryImages()

	userService := services.NewUserService(&memoryUsers{m: mem})
	tagService := services.NewAttributeService(&memoryAttrs{m: mem, kind: "tag"})
	ingredientService := services.NewAttributeService(&memoryAttrs{m: mem, kind: "ingredient"})
	recipeService := services.NewRecipeService(&memoryRecipes{m: mem}, images, nil, nil)

	authMiddleware := RequireAuth(testJWTSecret)

	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, userService, testJWTSecret)
	})
	router.Route("/tags", func(r chi.Router) {
		TagRouter(r, tagService, authMiddleware)
	})
	router.Route("/ingredients", func(r chi.Router) {
		IngredientRouter(r, ingredientService, authMiddleware)
	})
	router.Route("/recipes", func(r chi.Router) {
		RecipeRouter(r, recipeService, authMiddleware)
	})

	return &testEnv{router: router, mem: mem, images: images}
}

// newUser creates an account directly in the fake store and returns its
// ID plus a valid bearer token.
func (e *testEnv) newUser(t *testing.T, email string) (int64, string) {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte("testpass123"), bcrypt.MinCost)
	require.NoError(t, err)

	user, err := (&memoryUsers{m: e.mem}).Create(context.Background(), types.User{
		Email:        email,
		Name:         "Test User",
		PasswordHash: string(hashed),
	})
	require.NoError(t, err)

	token, err := issueToken(user.ID, []byte(testJWTSecret), defaultTokenTTL)
	require.NoError(t, err)
	return user.ID, token
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}
