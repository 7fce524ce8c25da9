package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulse/internal/repository"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store exposes the repositories over one pool. Read-modify-write paths
// run in a transaction holding row locks, so several server processes can
// share the database.
type Store struct {
	pool          *pgxpool.Pool
	users         *UserRepo
	conversations *ConversationRepo
	messages      *MessageRepo
	reactions     *ReactionRepo
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:          pool,
		users:         NewUserRepo(pool),
		conversations: NewConversationRepo(pool),
		messages:      NewMessageRepo(pool),
		reactions:     NewReactionRepo(pool),
	}
}

func (s *Store) Users() repository.UserRepository { return s.users }
func (s *Store) Conversations() repository.ConversationRepository { return s.conversations }
func (s *Store) Messages() repository.MessageRepository { return s.messages }
func (s *Store) Reactions() repository.ReactionRepository { return s.reactions }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, pool, fn)
}
