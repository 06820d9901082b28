package store

import (
	"context"
	"strings"

	"github.com/Itypecode/E-DAV/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func (s *Store) ProfileByUsername(ctx context.Context, username string) (*models.Profile, error) {
	var p models.Profile
	if err := s.DB.WithContext(ctx).First(&p, "username = ?", strings.TrimSpace(username)).Error; err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (s *Store) ProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	if err := s.DB.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// CreateProfile hashes password with bcrypt and inserts the account.
func (s *Store) CreateProfile(ctx context.Context, username, name, role, password string) (*models.Profile, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	p := &models.Profile{
		ID:             uuid.New(),
		Username:       strings.TrimSpace(username),
		Name:           name,
		Role:           role,
		HashedPassword: hashed,
	}
	if err := s.DB.WithContext(ctx).Create(p).Error; err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// SetPassword replaces the bcrypt hash of an existing account.
func (s *Store) SetPassword(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	res := s.DB.WithContext(ctx).Model(&models.Profile{}).
		Where("username = ?", strings.TrimSpace(username)).Update("hashed_password", hash)
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
