package services

import (
	"context"

	"github.com/recipebox/apiserver/internal/store"
)

// AttributeRepository defines persistence operations for one recipe
// attribute kind (tags or ingredients).
type AttributeRepository interface {
	List(ctx context.Context, userID int64, assignedOnly bool) ([]store.Attribute, error)
	Create(ctx context.Context, userID int64, name string) (store.Attribute, error)
}

// AttributeService encapsulates tag/ingredient use-cases. One instance per
// attribute kind; the two kinds differ only in the repository they wrap.
type AttributeService struct {
	repo AttributeRepository
}

func NewAttributeService(repo AttributeRepository) *AttributeService {
	return &AttributeService{repo: repo}
}

func (s *AttributeService) List(ctx context.Context, userID int64, assignedOnly bool) ([]store.Attribute, error) {
	return s.repo.List(ctx, userID, assignedOnly)
}

func (s *AttributeService) Create(ctx context.Context, userID int64, name string) (store.Attribute, error) {
	return s.repo.Create(ctx, userID, name)
}
