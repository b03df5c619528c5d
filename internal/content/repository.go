package content

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type ContentRepository interface {
	Create(ctx context.Context, content *Content) error
	FindByID(ctx context.Context, id uint64) (*Content, error)
	ListByOwner(ctx context.Context, ownerID uint64, page, pageSize int) ([]Content, ContentsMeta, error)
	SaveSnapshot(ctx context.Context, contentID uint64, body string, userID uint64) (uint64, error)
	ListVersions(ctx context.Context, contentID uint64) ([]ContentVersion, error)
	Delete(ctx context.Context, id uint64) error
}

type ContentRepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new content repository
func NewRepository(db *gorm.DB) ContentRepository {
	return &ContentRepositoryImpl{db: db}
}

func (r *ContentRepositoryImpl) Create(ctx context.Context, content *Content) error {
	content.CreatedAt = time.Now().UTC() // Use UTC for consistency
	content.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(content).Error
}

func (r *ContentRepositoryImpl) FindByID(ctx context.Context, id uint64) (*Content, error) {
	var content Content
	err := r.db.WithContext(ctx).First(&content, id).Error
	return &content, err
}

type ContentsMeta struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalPage   int   `json:"total_page"`
}

func (r *ContentRepositoryImpl) ListByOwner(ctx context.Context, ownerID uint64, page, pageSize int) ([]Content, ContentsMeta, error) {
	var contents []Content
	var totalRecords int64

	// Count total records
	if err := r.db.WithContext(ctx).Model(&Content{}).Where("owner_id = ?", ownerID).Count(&totalRecords).Error; err != nil {
		return contents, ContentsMeta{}, err
	}

	offset := (page - 1) * pageSize
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&contents).Error

	totalPages := int((totalRecords + int64(pageSize) - 1) / int64(pageSize))

	return contents, ContentsMeta{
		Total:       totalRecords,
		PerPage:     pageSize,
		TotalPage:   totalPages,
		CurrentPage: page,
	}, err
}

// SaveSnapshot stores a new version of the content body. Version numbers are
// assigned by incrementing version_seq on the content row inside the same
// transaction, so concurrent saves can never produce duplicate numbers.
func (r *ContentRepositoryImpl) SaveSnapshot(ctx context.Context, contentID uint64, body string, userID uint64) (uint64, error) {
	var number uint64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		// 1. increment version sequence on content
		if err := tx.Raw(`
			UPDATE contents
			SET version_seq = version_seq + 1,
			    body = ?,
			    updated_at = ?
			WHERE id = ?
			RETURNING version_seq
		`, body, now, contentID).Scan(&number).Error; err != nil {
			return err
		}

		if number == 0 {
			return gorm.ErrRecordNotFound
		}

		// 2. Insert the version row with the generated number
		if err := tx.Create(&ContentVersion{
			ContentID:   contentID,
			Number:      number,
			Body:        body,
			CreatedByID: userID,
			CreatedAt:   now,
		}).Error; err != nil {
			return err
		}

		return nil
	})

	return number, err
}

func (r *ContentRepositoryImpl) ListVersions(ctx context.Context, contentID uint64) ([]ContentVersion, error) {
	var versions []ContentVersion
	err := r.db.WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("number DESC").
		Find(&versions).Error
	return versions, err
}

func (r *ContentRepositoryImpl) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("content_id = ?", id).Delete(&ContentVersion{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Content{}, id).Error
	})
}
