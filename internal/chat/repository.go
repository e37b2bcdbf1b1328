package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines chat persistence operations.
type Repository interface {
	CreateChat(ctx context.Context, chat *Chat) error
	GetChat(ctx context.Context, id uuid.UUID) (*Chat, error)
	ListChatsByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Chat, int64, error)
	DeleteChat(ctx context.Context, id, userID uuid.UUID) error

	InsertMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]Message, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) CreateChat(ctx context.Context, chat *Chat) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chats (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		chat.ID, chat.UserID, chat.Title, chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	c := &Chat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	return c, nil
}

func (r *postgresRepository) ListChatsByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Chat, int64, error) {
	var totalCount int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chats WHERE user_id = $1`, userID).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting chats: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, title, created_at
		 FROM chats WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, userID, params.PageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, totalCount, rows.Err()
}

func (r *postgresRepository) DeleteChat(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chats WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat not found")
	}
	return nil
}

func (r *postgresRepository) InsertMessage(ctx context.Context, msg *Message) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, chat_id, user_id, content, sender, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ChatID, msg.UserID, msg.Content, msg.Sender, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns the most recent limit messages in chronological
// order. limit <= 0 means no limit.
func (r *postgresRepository) ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]Message, error) {
	query := `SELECT id, chat_id, user_id, content, sender, created_at
	          FROM chat_messages WHERE chat_id = $1 ORDER BY created_at ASC`
	args := []any{chatID}
	if limit > 0 {
		query = `SELECT id, chat_id, user_id, content, sender, created_at FROM (
		           SELECT id, chat_id, user_id, content, sender, created_at
		           FROM chat_messages WHERE chat_id = $1
		           ORDER BY created_at DESC LIMIT $2
		         ) recent ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Content, &m.Sender, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
