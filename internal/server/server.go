package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/recipebox/apiserver/config"
	"github.com/recipebox/apiserver/internal/cache"
	"github.com/recipebox/apiserver/internal/db"
	"github.com/recipebox/apiserver/internal/events"
	"github.com/recipebox/apiserver/internal/handlers"
	"github.com/recipebox/apiserver/internal/services"
	"github.com/recipebox/apiserver/internal/storage"
	"github.com/recipebox/apiserver/internal/store"
	"github.com/sirupsen/logrus"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	closers    []io.Closer
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	tagRepo := store.NewTagRepository(dbConn)
	ingredientRepo := store.NewIngredientRepository(dbConn)
	recipeRepo := store.NewRecipeRepository(dbConn)

	userService := services.NewUserService(userRepo)
	tagService := services.NewAttributeService(tagRepo)
	ingredientService := services.NewAttributeService(ingredientRepo)

	var closers []io.Closer

	var images services.ImageStore
	imageStore, err := newImageStore(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if imageStore != nil {
		images = imageStore
	}

	var publisher services.ImagePublisher
	eventPublisher, err := newPublisher(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if eventPublisher != nil {
		publisher = eventPublisher
		closers = append(closers, eventPublisher)
	}

	var detailCache services.DetailCache
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		recipeCache, err := cache.New(ctx, cfg.Redis)
		if err != nil {
			_ = dbConn.Close()
			return nil, err
		}
		detailCache = recipeCache
		closers = append(closers, recipeCache)
	}

	recipeService := services.NewRecipeService(recipeRepo, images, publisher, detailCache)

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, jwtSecret)
	})
	router.Route("/tags", func(r chi.Router) {
		handlers.TagRouter(r, tagService, authMiddleware)
	})
	router.Route("/ingredients", func(r chi.Router) {
		handlers.IngredientRouter(r, ingredientService, authMiddleware)
	})
	router.Route("/recipes", func(r chi.Router) {
		handlers.RecipeRouter(r, recipeService, authMiddleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		closers:    closers,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	for _, closer := range s.closers {
		_ = closer.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}

func newImageStore(ctx context.Context, cfg config.Config) (*storage.ImageStore, error) {
	var backend storage.Backend
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "":
		logrus.Warn("no storage backend configured, image upload disabled")
		return nil, nil
	case "minio":
		minioBackend, err := storage.NewMinioBackend(cfg.Storage.Minio)
		if err != nil {
			return nil, err
		}
		backend = minioBackend
	case "gcs":
		gcsBackend, err := storage.NewGCSBackend(ctx, cfg.Storage.GCS)
		if err != nil {
			return nil, err
		}
		backend = gcsBackend
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	imageStore := storage.NewImageStore(backend)
	if err := imageStore.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return imageStore, nil
}

func newPublisher(ctx context.Context, cfg config.Config) (*events.Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Events.Backend)) {
	case "":
		return nil, nil
	case "rabbitmq":
		backend, err := events.NewRabbitMQBackend(cfg.Events.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return events.NewPublisher(backend), nil
	case "pubsub":
		backend, err := events.NewPubSubBackend(ctx, cfg.Events.PubSub)
		if err != nil {
			return nil, err
		}
		return events.NewPublisher(backend), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}
