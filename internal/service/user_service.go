package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
)

// UserService mirrors profiles handed over by the identity gateway so
// mentions can be resolved against them.
type UserService struct {
	userRepo repository.UserRepository

	mu   sync.Mutex
	seen map[uuid.UUID]domain.User
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo, seen: make(map[uuid.UUID]domain.User)}
}

// Touch stores the profile unless this process already stored the same one.
func (s *UserService) Touch(ctx context.Context, user domain.User) error {
	s.mu.Lock()
	prev, ok := s.seen[user.ID]
	s.mu.Unlock()
	if ok && prev.Username == user.Username && prev.FirstName == user.FirstName && prev.LastName == user.LastName {
		return nil
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if err := s.userRepo.Upsert(ctx, &user); err != nil {
		return fmt.Errorf("storing profile: %w", err)
	}

	s.mu.Lock()
	s.seen[user.ID] = user
	s.mu.Unlock()
	return nil
}
