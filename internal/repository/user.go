package repository

import (
	"context"

	"transferdesk/internal/models"

	"gorm.io/gorm"
)

// UserRepository resolves users for role lookup and notification contact
// identity. User CRUD is owned by the identity service.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	ListReviewers(ctx context.Context) ([]*models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ListReviewers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := r.db.WithContext(ctx).
		Where("role IN ?", []models.Role{
			models.RoleAdmin,
			models.RoleSuperadmin,
			models.RoleTransferTeam,
		}).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// IssuerRepository reads issuer rows for the issuer write gate.
type IssuerRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Issuer, error)
}

type issuerRepository struct {
	db *gorm.DB
}

// NewIssuerRepository creates a new issuer repository
func NewIssuerRepository(db *gorm.DB) IssuerRepository {
	return &issuerRepository{db: db}
}

func (r *issuerRepository) GetByID(ctx context.Context, id uint) (*models.Issuer, error) {
	var issuer models.Issuer
	if err := r.db.WithContext(ctx).First(&issuer, id).Error; err != nil {
		return nil, err
	}
	return &issuer, nil
}
