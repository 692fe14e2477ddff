//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/recipebox/apiserver/config"
	"github.com/recipebox/apiserver/internal/db"
	"github.com/recipebox/apiserver/internal/server"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

type attributeResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type recipeResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	TimeMin     int     `json:"time_min"`
	Price       string  `json:"price"`
	ImagePath   string  `json:"image_path"`
	Tags        []int64 `json:"tags"`
	Ingredients []int64 `json:"ingredients"`
}

type recipeDetailResponse struct {
	ID          int64               `json:"id"`
	Title       string              `json:"title"`
	ImagePath   string              `json:"image_path"`
	Tags        []attributeResponse `json:"tags"`
	Ingredients []attributeResponse `json:"ingredients"`
}

type authResponse struct {
	Token string `json:"token"`
}

func TestRecipeLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	email := fmt.Sprintf("cook_%d@example.com", time.Now().UnixNano())

	token := registerUser(t, baseURL, email)

	tagID := createAttribute(t, baseURL, token, "tags", "Dinner")
	ingredientID := createAttribute(t, baseURL, token, "ingredients", "Garlic")

	created := createRecipe(t, baseURL, token, map[string]any{
		"title":       "Garlic Pasta",
		"time_min":    25,
		"price":       "7.50",
		"link":        "https://example.com/pasta",
		"tags":        []int64{tagID},
		"ingredients": []int64{ingredientID},
	})
	if created.Title != "Garlic Pasta" {
		t.Fatalf("unexpected title: %q", created.Title)
	}
	if created.Price != "7.50" {
		t.Fatalf("unexpected price: %q", created.Price)
	}
	if len(created.Tags) != 1 || created.Tags[0] != tagID {
		t.Fatalf("unexpected tags: %v", created.Tags)
	}

	detail := getRecipe(t, baseURL, token, created.ID)
	if len(detail.Tags) != 1 || detail.Tags[0].Name != "Dinner" {
		t.Fatalf("unexpected detail tags: %v", detail.Tags)
	}
	if len(detail.Ingredients) != 1 || detail.Ingredients[0].Name != "Garlic" {
		t.Fatalf("unexpected detail ingredients: %v", detail.Ingredients)
	}

	patched := patchRecipe(t, baseURL, token, created.ID, map[string]any{"title": "Garlic Pasta Deluxe"})
	if patched.Title != "Garlic Pasta Deluxe" {
		t.Fatalf("unexpected patched title: %q", patched.Title)
	}
	if len(patched.Tags) != 1 {
		t.Fatalf("patch without tags key must retain tags, got %v", patched.Tags)
	}

	replaced := putRecipe(t, baseURL, token, created.ID, map[string]any{
		"title":    "Plain Pasta",
		"time_min": 15,
		"price":    "5.00",
	})
	if len(replaced.Tags) != 0 || len(replaced.Ingredients) != 0 {
		t.Fatalf("put without association keys must clear them, got %v / %v", replaced.Tags, replaced.Ingredients)
	}

	uploaded := uploadImage(t, baseURL, token, created.ID)
	if uploaded.ImagePath == "" {
		t.Fatalf("expected image path after upload")
	}

	filtered := listRecipes(t, baseURL, token, fmt.Sprintf("?tags=%d", tagID))
	if len(filtered) != 0 {
		t.Fatalf("tag filter should exclude the recipe after its tags were cleared, got %d", len(filtered))
	}

	deleteRecipe(t, baseURL, token, created.ID)
	expectNotFound(t, baseURL, token, created.ID)
}

func TestRecipeOwnership(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	now := time.Now().UnixNano()

	tokenA := registerUser(t, baseURL, fmt.Sprintf("owner_a_%d@example.com", now))
	tokenB := registerUser(t, baseURL, fmt.Sprintf("owner_b_%d@example.com", now))

	theirs := createRecipe(t, baseURL, tokenB, map[string]any{
		"title":    "Secret Sauce",
		"time_min": 5,
		"price":    "1.00",
	})

	status := rawStatus(t, http.MethodGet, fmt.Sprintf("%s/recipes/%d", baseURL, theirs.ID), tokenA, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's recipe, got %d", status)
	}

	listed := listRecipes(t, baseURL, tokenA, "")
	for _, r := range listed {
		if r.ID == theirs.ID {
			t.Fatalf("another user's recipe leaked into the listing")
		}
	}
}

func registerUser(t *testing.T, baseURL, email string) string {
	t.Helper()

	payload := map[string]string{
		"email":    email,
		"name":     "Test Cook",
		"password": "testpass123",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal register payload: %v", err)
	}

	resp, err := http.Post(baseURL+"/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("register status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if parsed.Token == "" {
		t.Fatalf("missing token in register response")
	}
	return parsed.Token
}

func createAttribute(t *testing.T, baseURL, token, resource, name string) int64 {
	t.Helper()

	var parsed attributeResponse
	doJSON(t, http.MethodPost, baseURL+"/"+resource, token, map[string]string{"name": name}, http.StatusCreated, &parsed)
	return parsed.ID
}

func createRecipe(t *testing.T, baseURL, token string, payload map[string]any) recipeResponse {
	t.Helper()

	var parsed recipeResponse
	doJSON(t, http.MethodPost, baseURL+"/recipes", token, payload, http.StatusCreated, &parsed)
	return parsed
}

func getRecipe(t *testing.T, baseURL, token string, id int64) recipeDetailResponse {
	t.Helper()

	var parsed recipeDetailResponse
	doJSON(t, http.MethodGet, fmt.Sprintf("%s/recipes/%d", baseURL, id), token, nil, http.StatusOK, &parsed)
	return parsed
}

func patchRecipe(t *testing.T, baseURL, token string, id int64, payload map[string]any) recipeResponse {
	t.Helper()

	var parsed recipeResponse
	doJSON(t, http.MethodPatch, fmt.Sprintf("%s/recipes/%d", baseURL, id), token, payload, http.StatusOK, &parsed)
	return parsed
}

func putRecipe(t *testing.T, baseURL, token string, id int64, payload map[string]any) recipeResponse {
	t.Helper()

	var parsed recipeResponse
	doJSON(t, http.MethodPut, fmt.Sprintf("%s/recipes/%d", baseURL, id), token, payload, http.StatusOK, &parsed)
	return parsed
}

func listRecipes(t *testing.T, baseURL, token, query string) []recipeResponse {
	t.Helper()

	var parsed []recipeResponse
	doJSON(t, http.MethodGet, baseURL+"/recipes"+query, token, nil, http.StatusOK, &parsed)
	return parsed
}

func deleteRecipe(t *testing.T, baseURL, token string, id int64) {
	t.Helper()

	status := rawStatus(t, http.MethodDelete, fmt.Sprintf("%s/recipes/%d", baseURL, id), token, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete status %d", status)
	}
}

func expectNotFound(t *testing.T, baseURL, token string, id int64) {
	t.Helper()

	status := rawStatus(t, http.MethodGet, fmt.Sprintf("%s/recipes/%d", baseURL, id), token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}
}

func uploadImage(t *testing.T, baseURL, token string, id int64) recipeDetailResponse {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var data bytes.Buffer
	if err := png.Encode(&data, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data.Bytes()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/recipes/%d/upload-image", baseURL, id), &body)
	if err != nil {
		t.Fatalf("build upload request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed recipeDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return parsed
}

func doJSON(t *testing.T, method, url, token string, payload any, wantStatus int, dest any) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func rawStatus(t *testing.T, method, url, token string, body io.Reader) int {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, db.DSN(cfg))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "recipebox")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "recipebox_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "recipe-images")
	_ = os.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
