package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulse/internal/domain"
	"github.com/vedran77/pulse/internal/repository"
)

type MessageRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool, now: time.Now}
}

const messageColumns = `m.id, m.conversation_id, m.is_channel, m.seq, m.sender_id, m.content, m.attachments,
	m.reply_to_id, m.mentioned_user_ids, m.reply_count, m.is_edited, m.is_deleted, m.created_at, m.edited_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	var topic uuid.UUID
	var isChannel bool
	err := row.Scan(
		&msg.ID, &topic, &isChannel, &msg.Seq, &msg.SenderID, &msg.Content, &msg.Attachments,
		&msg.ReplyToID, &msg.MentionedUserIDs, &msg.ReplyCount, &msg.IsEdited, &msg.IsDeleted,
		&msg.CreatedAt, &msg.EditedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.SetTopic(domain.ConversationRef{ID: topic, IsChannel: isChannel})
	return &msg, nil
}

func (r *MessageRepo) Append(ctx context.Context, msg *domain.Message) error {
	topic := msg.TopicID()

	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var kind domain.ConversationKind
		var lastSeq uint64
		var lastAt *time.Time
		err := tx.QueryRow(ctx,
			`SELECT kind, last_seq, last_message_at FROM conversations WHERE id = $1 FOR UPDATE`, topic,
		).Scan(&kind, &lastSeq, &lastAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}

		if msg.ReplyToID != nil {
			var rootTopic uuid.UUID
			var rootParent *uuid.UUID
			var rootDeleted bool
			err := tx.QueryRow(ctx,
				`SELECT conversation_id, reply_to_id, is_deleted FROM messages WHERE id = $1 FOR UPDATE`, *msg.ReplyToID,
			).Scan(&rootTopic, &rootParent, &rootDeleted)
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrReplyTargetNotFound
			}
			if err != nil {
				return err
			}
			if rootDeleted {
				return repository.ErrReplyTargetNotFound
			}
			if rootTopic != topic || rootParent != nil {
				return repository.ErrReplyTargetMismatch
			}
		}

		createdAt := r.now().UTC().Truncate(time.Microsecond)
		if lastAt != nil && !createdAt.After(*lastAt) {
			createdAt = lastAt.Add(time.Microsecond)
		}
		msg.Seq = lastSeq + 1
		msg.CreatedAt = createdAt
		msg.SetTopic(domain.ConversationRef{ID: topic, IsChannel: kind == domain.KindChannel})
		msg.Normalize()

		query := `
			INSERT INTO messages (id, conversation_id, is_channel, seq, sender_id, content, attachments,
				reply_to_id, mentioned_user_ids, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		if _, err := tx.Exec(ctx, query,
			msg.ID, topic, msg.ChannelID != nil, msg.Seq, msg.SenderID, msg.Content, msg.Attachments,
			msg.ReplyToID, msg.MentionedUserIDs, msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}

		if msg.ReplyToID != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE messages SET reply_count = reply_count + 1 WHERE id = $1`, *msg.ReplyToID,
			); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE conversations SET last_seq = $1, last_message_at = $2 WHERE id = $3`,
			msg.Seq, msg.CreatedAt, topic,
		)
		return err
	})
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.id = $1`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachReactions(ctx, []*domain.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepo) List(ctx context.Context, conversationID uuid.UUID, page repository.Page) ([]domain.Message, error) {
	page = page.WithDefaultLimit()

	var query string
	var args []any
	switch {
	case page.After > 0:
		query = `SELECT ` + messageColumns + ` FROM messages m
			WHERE m.conversation_id = $1 AND m.seq > $2 AND ($3::bigint = 0 OR m.seq < $3)
			ORDER BY m.seq ASC LIMIT $4`
		args = []any{conversationID, page.After, page.Before, page.Limit}
	case page.Before > 0:
		query = `SELECT ` + messageColumns + ` FROM messages m
			WHERE m.conversation_id = $1 AND m.seq < $2
			ORDER BY m.seq DESC LIMIT $3`
		args = []any{conversationID, page.Before, page.Limit}
	default:
		query = `SELECT ` + messageColumns + ` FROM messages m
			WHERE m.conversation_id = $1
			ORDER BY m.seq DESC LIMIT $2`
		args = []any{conversationID, page.Limit}
	}

	messages, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	if page.After == 0 {
		// Reverse da budu chronological (query ih daje DESC)
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

func (r *MessageRepo) ListReplies(ctx context.Context, rootID uuid.UUID) ([]domain.Message, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, rootID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrNotFound
	}

	query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.reply_to_id = $1 ORDER BY m.seq`
	return r.query(ctx, query, rootID)
}

func (r *MessageRepo) query(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ptrs []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachReactions(ctx, ptrs); err != nil {
		return nil, err
	}

	messages := make([]domain.Message, len(ptrs))
	for i, m := range ptrs {
		messages[i] = *m
	}
	return messages, nil
}

func (r *MessageRepo) attachReactions(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Message, len(msgs))
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		m.Normalize()
		byID[m.ID] = m
		ids[i] = m.ID
	}

	rows, err := r.pool.Query(ctx, `SELECT message_id, user_id, emoji FROM reactions WHERE message_id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, userID uuid.UUID
		var emoji string
		if err := rows.Scan(&msgID, &userID, &emoji); err != nil {
			return err
		}
		byID[msgID].Reactions[userID] = emoji
	}
	return rows.Err()
}

func (r *MessageRepo) UpdateContent(ctx context.Context, msg *domain.Message) error {
	editedAt := r.now().UTC().Truncate(time.Microsecond)

	var deleted bool
	err := r.pool.QueryRow(ctx, `
		UPDATE messages SET
			content = CASE WHEN is_deleted THEN content ELSE $1 END,
			is_edited = is_edited OR NOT is_deleted,
			edited_at = CASE WHEN is_deleted THEN edited_at ELSE $2 END
		WHERE id = $3
		RETURNING is_deleted`,
		msg.Content, editedAt, msg.ID,
	).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	if deleted {
		return repository.ErrMessageDeleted
	}
	msg.IsEdited, msg.EditedAt = true, &editedAt
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID) (*repository.DeleteResult, error) {
	var result *repository.DeleteResult
	var rootID *uuid.UUID

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Conversation first, same order as Append.
		var topic uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT c.id FROM conversations c
			JOIN messages m ON m.conversation_id = c.id
			WHERE m.id = $1
			FOR UPDATE OF c`, id,
		).Scan(&topic)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}

		msg, err := scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		if msg.IsDeleted {
			return repository.ErrMessageDeleted
		}

		if _, err := tx.Exec(ctx, `DELETE FROM reactions WHERE message_id = $1`, id); err != nil {
			return err
		}

		if msg.ReplyCount > 0 {
			_, err := tx.Exec(ctx, `
				UPDATE messages SET content = '', attachments = '[]', mentioned_user_ids = '[]', is_deleted = true
				WHERE id = $1`, id)
			result = &repository.DeleteResult{Outcome: repository.Tombstoned}
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
			return err
		}
		result = &repository.DeleteResult{Outcome: repository.Removed}
		if msg.ReplyToID == nil {
			return nil
		}

		var replyCount int
		var rootDeleted bool
		err = tx.QueryRow(ctx, `
			UPDATE messages SET reply_count = GREATEST(reply_count - 1, 0)
			WHERE id = $1
			RETURNING reply_count, is_deleted`, *msg.ReplyToID,
		).Scan(&replyCount, &rootDeleted)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if rootDeleted && replyCount == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, *msg.ReplyToID); err != nil {
				return err
			}
			result.RootCollected = true
			return nil
		}
		rootID = msg.ReplyToID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rootID != nil {
		result.Root, err = r.GetByID(ctx, *rootID)
		if err != nil {
			return nil, fmt.Errorf("loading thread root: %w", err)
		}
	}
	return result, nil
}
