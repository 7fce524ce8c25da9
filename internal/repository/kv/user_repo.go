package kv

import (
	"context"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
)

type UserRepo struct {
	s *Store
}

func (r *UserRepo) Upsert(ctx context.Context, user *domain.User) error {
	b := r.s.db.NewBatch()
	if err := setJSON(b, userKey(user.ID), user); err != nil {
		b.Close()
		return err
	}
	return r.s.commit(b)
}

func (r *UserRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	users := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		var u domain.User
		ok, err := r.s.getJSON(userKey(id), &u)
		if err != nil {
			return nil, err
		}
		if ok {
			users = append(users, u)
		}
	}
	return users, nil
}
