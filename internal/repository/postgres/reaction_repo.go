package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulse/internal/repository"
)

type ReactionRepo struct {
	pool *pgxpool.Pool
}

func NewReactionRepo(pool *pgxpool.Pool) *ReactionRepo {
	return &ReactionRepo{pool: pool}
}

// Toggle locks the message row, so toggles on one message serialize
// across processes.
func (r *ReactionRepo) Toggle(ctx context.Context, messageID, userID uuid.UUID, emoji string) (string, map[uuid.UUID]string, error) {
	var applied string
	var reactions map[uuid.UUID]string

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var deleted bool
		err := tx.QueryRow(ctx, `SELECT is_deleted FROM messages WHERE id = $1 FOR UPDATE`, messageID).Scan(&deleted)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		if deleted {
			return repository.ErrMessageDeleted
		}

		var current string
		err = tx.QueryRow(ctx,
			`SELECT emoji FROM reactions WHERE message_id = $1 AND user_id = $2`, messageID, userID,
		).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if current == emoji {
			_, err = tx.Exec(ctx, `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2`, messageID, userID)
		} else {
			applied = emoji
			_, err = tx.Exec(ctx, `
				INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
				ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji`,
				messageID, userID, emoji,
			)
		}
		if err != nil {
			return err
		}

		reactions, err = listReactions(ctx, tx, messageID)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return applied, reactions, nil
}

func (r *ReactionRepo) ListByMessage(ctx context.Context, messageID uuid.UUID) (map[uuid.UUID]string, error) {
	return listReactions(ctx, r.pool, messageID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listReactions(ctx context.Context, q querier, messageID uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := q.Query(ctx, `SELECT user_id, emoji FROM reactions WHERE message_id = $1`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reactions := make(map[uuid.UUID]string)
	for rows.Next() {
		var userID uuid.UUID
		var emoji string
		if err := rows.Scan(&userID, &emoji); err != nil {
			return nil, err
		}
		reactions[userID] = emoji
	}
	return reactions, rows.Err()
}
