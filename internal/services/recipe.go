package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/recipebox/apiserver/internal/events"
	"github.com/recipebox/apiserver/internal/store"
	"github.com/recipebox/apiserver/types"
	"github.com/sirupsen/logrus"
)

// ErrInvalidImage is returned when an upload does not decode as a raster image.
var ErrInvalidImage = errors.New("invalid image")

// ErrNoImageStore is returned when image operations are requested but no
// object storage backend was configured.
var ErrNoImageStore = errors.New("image storage is not configured")

// RecipeRepository defines persistence operations for recipes.
type RecipeRepository interface {
	List(ctx context.Context, userID int64, filter store.RecipeFilter) ([]types.Recipe, error)
	Get(ctx context.Context, userID, id int64) (types.Recipe, error)
	Create(ctx context.Context, recipe types.Recipe, tagIDs, ingredientIDs []int64) (types.Recipe, error)
	Update(ctx context.Context, userID, id int64, patch store.RecipePatch) (types.Recipe, error)
	Delete(ctx context.Context, userID, id int64) error
	SetImagePath(ctx context.Context, userID, id int64, path string) error
}

// ImageStore persists recipe image bytes.
type ImageStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Remove(ctx context.Context, key string) error
}

// ImagePublisher notifies downstream consumers about attached images.
type ImagePublisher interface {
	ImageUploaded(ctx context.Context, event events.ImageUploaded) (string, error)
}

// DetailCache caches recipe detail payloads between reads.
type DetailCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// RecipeService encapsulates recipe use-cases. The images, publisher, and
// cache collaborators are optional; a nil value disables the concern.
type RecipeService struct {
	repo      RecipeRepository
	images    ImageStore
	publisher ImagePublisher
	cache     DetailCache
}

func NewRecipeService(repo RecipeRepository, images ImageStore, publisher ImagePublisher, cache DetailCache) *RecipeService {
	return &RecipeService{
		repo:      repo,
		images:    images,
		publisher: publisher,
		cache:     cache,
	}
}

func (s *RecipeService) List(ctx context.Context, userID int64, filter store.RecipeFilter) ([]types.Recipe, error) {
	return s.repo.List(ctx, userID, filter)
}

func (s *RecipeService) Get(ctx context.Context, userID, id int64) (types.Recipe, error) {
	key := detailKey(userID, id)
	if s.cache != nil {
		var cached types.Recipe
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			logrus.WithError(err).Warn("recipe cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	recipe, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return types.Recipe{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, recipe); err != nil {
			logrus.WithError(err).Warn("recipe cache write failed")
		}
	}
	return recipe, nil
}

func (s *RecipeService) Create(ctx context.Context, recipe types.Recipe, tagIDs, ingredientIDs []int64) (types.Recipe, error) {
	return s.repo.Create(ctx, recipe, tagIDs, ingredientIDs)
}

func (s *RecipeService) Update(ctx context.Context, userID, id int64, patch store.RecipePatch) (types.Recipe, error) {
	recipe, err := s.repo.Update(ctx, userID, id, patch)
	if err != nil {
		return types.Recipe{}, err
	}
	s.invalidate(ctx, userID, id)
	return recipe, nil
}

func (s *RecipeService) Delete(ctx context.Context, userID, id int64) error {
	recipe, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.invalidate(ctx, userID, id)

	if recipe.ImagePath != "" && s.images != nil {
		if err := s.images.Remove(ctx, recipe.ImagePath); err != nil {
			logrus.WithError(err).WithField("path", recipe.ImagePath).Warn("orphaned recipe image left in storage")
		}
	}
	return nil
}

// UploadImage validates and stores an image for one of the user's recipes.
// Validation happens before any write; a payload that does not decode leaves
// both the recipe row and the object store untouched.
func (s *RecipeService) UploadImage(ctx context.Context, userID, id int64, data []byte) (types.Recipe, error) {
	if s.images == nil {
		return types.Recipe{}, ErrNoImageStore
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return types.Recipe{}, ErrInvalidImage
	}
	contentType := "image/" + format

	recipe, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return types.Recipe{}, err
	}

	key := fmt.Sprintf("recipes/%s.%s", uuid.NewString(), format)
	if err := s.images.Save(ctx, key, data, contentType); err != nil {
		return types.Recipe{}, err
	}
	if err := s.repo.SetImagePath(ctx, userID, id, key); err != nil {
		return types.Recipe{}, err
	}
	s.invalidate(ctx, userID, id)

	if recipe.ImagePath != "" {
		if err := s.images.Remove(ctx, recipe.ImagePath); err != nil {
			logrus.WithError(err).WithField("path", recipe.ImagePath).Warn("previous recipe image not removed")
		}
	}

	if s.publisher != nil {
		_, err := s.publisher.ImageUploaded(ctx, events.ImageUploaded{
			RecipeID:    id,
			UserID:      userID,
			ImagePath:   key,
			ContentType: contentType,
		})
		if err != nil {
			logrus.WithError(err).Warn("image uploaded event not published")
		}
	}

	return s.repo.Get(ctx, userID, id)
}

func (s *RecipeService) invalidate(ctx context.Context, userID, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, detailKey(userID, id)); err != nil {
		logrus.WithError(err).Warn("recipe cache invalidation failed")
	}
}

func detailKey(userID, id int64) string {
	return fmt.Sprintf("recipe:%d:%d", userID, id)
}
