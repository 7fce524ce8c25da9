package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

const conversationColumns = `c.id, c.kind, c.name, c.visibility, c.participant_ids, COALESCE(c.direct_key, ''),
	c.last_seq, c.last_message_at, c.created_by, c.created_at`

func scanConversation(row pgx.Row, extra ...any) (*domain.Conversation, error) {
	var c domain.Conversation
	dest := append([]any{
		&c.ID, &c.Kind, &c.Name, &c.Visibility, &c.ParticipantIDs, &c.DirectKey,
		&c.LastSeq, &c.LastMessageAt, &c.CreatedBy, &c.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation, members []domain.Member) error {
	var directKey *string
	if conv.DirectKey != "" {
		directKey = &conv.DirectKey
	}
	participants := conv.ParticipantIDs
	if participants == nil {
		participants = []uuid.UUID{}
	}

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO conversations (id, kind, name, visibility, participant_ids, direct_key, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		if _, err := tx.Exec(ctx, query,
			conv.ID, conv.Kind, conv.Name, conv.Visibility, participants, directKey, conv.CreatedBy, conv.CreatedAt,
		); err != nil {
			return err
		}

		for _, m := range members {
			if _, err := tx.Exec(ctx,
				`INSERT INTO conversation_members (conversation_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
				conv.ID, m.UserID, m.Role, m.JoinedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})

	if code, constraint := pgErrorCode(err); code == codeUniqueViolation {
		switch constraint {
		case "conversations_channel_name_idx":
			return repository.ErrDuplicateName
		case "conversations_direct_key_idx":
			return repository.ErrDuplicateDirect
		}
	}
	return err
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1`
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return conv, err
}

func (r *ConversationRepo) GetByDirectKey(ctx context.Context, key string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.direct_key = $1`
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return conv, err
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `, m.unread_count
		FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id
		WHERE m.user_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var unread int64
		conv, err := scanConversation(rows, &unread)
		if err != nil {
			return nil, err
		}
		conv.UnreadCount = &unread
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

func (r *ConversationRepo) AddMember(ctx context.Context, member *domain.Member) error {
	query := `INSERT INTO conversation_members (conversation_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, member.ConversationID, member.UserID, member.Role, member.JoinedAt)

	switch code, _ := pgErrorCode(err); code {
	case codeUniqueViolation:
		return repository.ErrAlreadyMember
	case codeForeignKeyViolation:
		return repository.ErrNotFound
	}
	return err
}

func (r *ConversationRepo) GetMember(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Member, error) {
	query := `SELECT conversation_id, user_id, role, unread_count, joined_at
		FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`
	var m domain.Member
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(
		&m.ConversationID, &m.UserID, &m.Role, &m.UnreadCount, &m.JoinedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &m, err
}

func (r *ConversationRepo) ListMembers(ctx context.Context, conversationID uuid.UUID) ([]domain.Member, error) {
	query := `SELECT conversation_id, user_id, role, unread_count, joined_at
		FROM conversation_members WHERE conversation_id = $1 ORDER BY joined_at`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ConversationID, &m.UserID, &m.Role, &m.UnreadCount, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IncrementUnread is a single UPDATE, so it is atomic against a
// concurrent ClearUnread on the same row.
func (r *ConversationRepo) IncrementUnread(ctx context.Context, conversationID, exceptUserID uuid.UUID) (map[uuid.UUID]int64, error) {
	query := `
		UPDATE conversation_members SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id <> $2
		RETURNING user_id, unread_count`

	rows, err := r.pool.Query(ctx, query, conversationID, exceptUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var userID uuid.UUID
		var count int64
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}

func (r *ConversationRepo) ClearUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversation_members SET unread_count = 0 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
