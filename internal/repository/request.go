// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"time"

	"transferdesk/internal/models"
	"transferdesk/internal/observability"

	"gorm.io/gorm"
)

// RequestFilter narrows List results. Zero values mean "no constraint";
// role scoping (brokers see only their own requests) is applied by the
// caller through BrokerID.
type RequestFilter struct {
	IssuerID uint
	Status   models.RequestStatus
	BrokerID uint
	Limit    int
	Offset   int
}

// RequestRepository defines the interface for transfer request data operations.
type RequestRepository interface {
	Create(ctx context.Context, req *models.TransferRequest) error
	GetByID(ctx context.Context, id uint) (*models.TransferRequest, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.TransferRequest, error)
	List(ctx context.Context, filter RequestFilter) ([]*models.TransferRequest, error)
	Updates(ctx context.Context, id uint, patch map[string]interface{}) error

	CreateAction(ctx context.Context, action *models.BrokerRequestAction) error
	ListActions(ctx context.Context, requestID uint) ([]*models.BrokerRequestAction, error)
}

// requestRepository implements RequestRepository
type requestRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewRequestRepository creates a new transfer request repository
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{
		db:  db,
		log: observability.NewRepoLogger("transfer_requests"),
	}
}

func (r *requestRepository) Create(ctx context.Context, req *models.TransferRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return err
	}
	// Request number derives from the sequential PK, so it can only be
	// assigned after the insert.
	if req.RequestNumber == "" {
		req.RequestNumber = models.FormatRequestNumber(req.ID)
		if err := r.db.WithContext(ctx).Model(req).
			Update("request_number", req.RequestNumber).Error; err != nil {
			return err
		}
	}
	r.log.LogCreate(ctx, map[string]interface{}{
		"request_id":     req.ID,
		"request_number": req.RequestNumber,
		"request_type":   req.RequestType,
	})
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id uint) (*models.TransferRequest, error) {
	var req models.TransferRequest
	err := r.db.WithContext(ctx).
		Preload("Broker").
		Preload("Issuer").
		Preload("AssignedTo").
		First(&req, id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) GetByPublicID(ctx context.Context, publicID string) (*models.TransferRequest, error) {
	var req models.TransferRequest
	err := r.db.WithContext(ctx).
		Preload("Broker").
		Preload("Issuer").
		Preload("AssignedTo").
		Where("public_id = ?", publicID).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]*models.TransferRequest, error) {
	q := r.db.WithContext(ctx).
		Preload("Broker").
		Preload("Issuer").
		Preload("AssignedTo").
		Order("created_at DESC")

	if filter.BrokerID != 0 {
		q = q.Where("broker_id = ?", filter.BrokerID)
	}
	if filter.IssuerID != 0 {
		q = q.Where("issuer_id = ?", filter.IssuerID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var requests []*models.TransferRequest
	if err := q.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *requestRepository) Updates(ctx context.Context, id uint, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	patch["updated_at"] = time.Now()
	err := r.db.WithContext(ctx).
		Model(&models.TransferRequest{}).
		Where("id = ?", id).
		Updates(patch).Error
	if err == nil {
		r.log.LogUpdate(ctx, map[string]interface{}{"request_id": id})
	}
	return err
}

func (r *requestRepository) CreateAction(ctx context.Context, action *models.BrokerRequestAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *requestRepository) ListActions(ctx context.Context, requestID uint) ([]*models.BrokerRequestAction, error) {
	var actions []*models.BrokerRequestAction
	err := r.db.WithContext(ctx).
		Preload("UsedBy").
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}
