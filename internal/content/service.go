package content

import (
	"collab-session-server/internal/errors"
	"context"
	defError "errors"
	"time"

	"gorm.io/gorm"
)

type Service interface {
	CreateContent(ctx context.Context, ownerID uint64, content *Content) error
	GetContent(ctx context.Context, id uint64) (*Content, error)
	ListOwnerContents(ctx context.Context, ownerID uint64, page, pageSize int) ([]ContentShowResponse, ContentsMeta, error)
	SaveSnapshot(ctx context.Context, contentID uint64, body string, userID uint64) (uint64, error)
	ListVersions(ctx context.Context, contentID uint64) ([]ContentVersionDTO, error)
	DeleteContent(ctx context.Context, contentID uint64, requesterID uint64) error
}

type DefaultService struct {
	repository ContentRepository
}

func NewService(repository ContentRepository) Service {
	return &DefaultService{repository: repository}
}

func (s *DefaultService) CreateContent(ctx context.Context, ownerID uint64, content *Content) error {
	content.OwnerID = ownerID
	return s.repository.Create(ctx, content)
}

func (s *DefaultService) GetContent(ctx context.Context, id uint64) (*Content, error) {
	content, err := s.repository.FindByID(ctx, id)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Content not found", err)
		}
		return nil, err
	}
	return content, nil
}

type ContentShowResponse struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *DefaultService) ListOwnerContents(ctx context.Context, ownerID uint64, page, pageSize int) ([]ContentShowResponse, ContentsMeta, error) {
	contents, meta, err := s.repository.ListByOwner(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, ContentsMeta{}, err
	}

	result := make([]ContentShowResponse, 0, len(contents))
	for _, c := range contents {
		result = append(result, ContentShowResponse{
			ID:        c.ID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	return result, meta, nil
}

// SaveSnapshot persists a new body and returns the assigned version number.
func (s *DefaultService) SaveSnapshot(ctx context.Context, contentID uint64, body string, userID uint64) (uint64, error) {
	number, err := s.repository.SaveSnapshot(ctx, contentID, body, userID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return 0, errors.NotFound("Content not found", err)
		}
		return 0, err
	}
	return number, nil
}

type ContentVersionDTO struct {
	Number    uint64    `json:"number"`
	CreatedBy uint64    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *DefaultService) ListVersions(ctx context.Context, contentID uint64) ([]ContentVersionDTO, error) {
	versions, err := s.repository.ListVersions(ctx, contentID)
	if err != nil {
		return nil, err
	}

	result := make([]ContentVersionDTO, 0, len(versions))
	for _, v := range versions {
		result = append(result, ContentVersionDTO{
			Number:    v.Number,
			CreatedBy: v.CreatedByID,
			CreatedAt: v.CreatedAt,
		})
	}
	return result, nil
}

func (s *DefaultService) DeleteContent(ctx context.Context, contentID uint64, requesterID uint64) error {
	content, err := s.GetContent(ctx, contentID)
	if err != nil {
		return err
	}

	if content.OwnerID != requesterID {
		return errors.Forbidden("Only owner can delete content", nil)
	}

	return s.repository.Delete(ctx, contentID)
}
