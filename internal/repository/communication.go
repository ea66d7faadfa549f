package repository

import (
	"context"

	"transferdesk/internal/models"
	"transferdesk/internal/observability"

	"gorm.io/gorm"
)

// CommunicationRepository is the append-only journal of human-readable events
// attached to a request. Entries are created, listed, and never mutated.
type CommunicationRepository interface {
	Append(ctx context.Context, comm *models.Communication) error
	ListForRequest(ctx context.Context, requestID uint, includeInternal bool) ([]*models.Communication, error)
}

type communicationRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCommunicationRepository creates a new communication repository
func NewCommunicationRepository(db *gorm.DB) CommunicationRepository {
	return &communicationRepository{
		db:  db,
		log: observability.NewRepoLogger("communications"),
	}
}

func (r *communicationRepository) Append(ctx context.Context, comm *models.Communication) error {
	if err := r.db.WithContext(ctx).Create(comm).Error; err != nil {
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{
		"request_id":  comm.RequestID,
		"is_internal": comm.IsInternal,
	})
	return nil
}

func (r *communicationRepository) ListForRequest(ctx context.Context, requestID uint, includeInternal bool) ([]*models.Communication, error) {
	q := r.db.WithContext(ctx).
		Preload("User").
		Where("request_id = ?", requestID).
		Order("created_at ASC")
	if !includeInternal {
		q = q.Where("is_internal = ?", false)
	}

	var comms []*models.Communication
	if err := q.Find(&comms).Error; err != nil {
		return nil, err
	}
	return comms, nil
}
