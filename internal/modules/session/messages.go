// README: Conversation message history, stored with the security flags raised on each message.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"roam/internal/modules/validate"
	"roam/internal/types"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID             types.ID                `json:"id"`
	ConversationID types.ID                `json:"conversationId"`
	Role           Role                    `json:"role"`
	Content        string                  `json:"content"`
	Flags          []validate.SecurityFlag `json:"flags,omitempty"`
	State          State                   `json:"state,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// History appends and reads conversation messages.
type History interface {
	Append(ctx context.Context, m Message) error
	Recent(ctx context.Context, conversationID types.ID, limit int) ([]Message, error)
}

type MessageLog struct {
	db *pgxpool.Pool
}

func NewMessageLog(db *pgxpool.Pool) *MessageLog {
	return &MessageLog{db: db}
}

func (l *MessageLog) Append(ctx context.Context, m Message) error {
	if m.ID == "" {
		m.ID = types.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	flags := m.Flags
	if flags == nil {
		flags = []validate.SecurityFlag{}
	}
	raw, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, role, content, security_flags, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(m.ID), string(m.ConversationID), string(m.Role), m.Content, raw, string(m.State), m.CreatedAt)
	return err
}

// Recent returns up to limit messages, oldest first.
func (l *MessageLog) Recent(ctx context.Context, conversationID types.ID, limit int) ([]Message, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, role, content, security_flags, state, created_at
		FROM (
			SELECT id, role, content, security_flags, state, created_at
			FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, string(conversationID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m            Message
			id, role, st string
			flags        []byte
		)
		if err := rows.Scan(&id, &role, &m.Content, &flags, &st, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ID, m.ConversationID, m.Role, m.State = types.ID(id), conversationID, Role(role), State(st)
		if len(flags) > 0 {
			if err := json.Unmarshal(flags, &m.Flags); err != nil {
				return nil, err
			}
		}
		if len(m.Flags) == 0 {
			m.Flags = nil
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type MemoryLog struct {
	mu     sync.RWMutex
	byConv map[types.ID][]Message
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byConv: map[types.ID][]Message{}}
}

func (l *MemoryLog) Append(_ context.Context, m Message) error {
	if m.ID == "" {
		m.ID = types.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byConv[m.ConversationID] = append(l.byConv[m.ConversationID], m)
	return nil
}

func (l *MemoryLog) Recent(_ context.Context, conversationID types.ID, limit int) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := l.byConv[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Message(nil), all...), nil
}
