package service

import (
	"context"
	"fmt"

	"jobbridge/internal/domain"
)

// UserService exposes the read-side of the user directory.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !u.IsActive {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (s *UserService) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return s.users.ListOnline(ctx)
}
