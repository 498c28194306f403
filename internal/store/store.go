// Package store is the sqlite-backed message store the privileged context
// serves history, contacts and media metadata from.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vicentereig/whatsapp-export/internal/types"
)

type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(dbPath string) (*MessageStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %v", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			name TEXT,
			is_group BOOLEAN DEFAULT 0,
			avatar TEXT,
			last_message_time TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT,
			chat_id TEXT,
			sender TEXT,
			text TEXT,
			timestamp INTEGER,
			from_me BOOLEAN,
			media_type TEXT,
			media_path TEXT,
			PRIMARY KEY (id, chat_id),
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages(chat_id, timestamp);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	return &MessageStore{db: db}, nil
}

func (s *MessageStore) Close() error {
	return s.db.Close()
}

// UpsertChat records a chat, never downgrading a friendly name back to a
// bare id.
func (s *MessageStore) UpsertChat(chat types.ChatDescriptor, lastMessageTime time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO chats (id, name, is_group, avatar, last_message_time) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE
				WHEN excluded.name IS NOT NULL AND excluded.name != '' AND excluded.name != chats.id THEN excluded.name
				WHEN chats.name IS NULL OR chats.name = '' THEN excluded.name
				ELSE chats.name
			END,
			is_group = excluded.is_group,
			avatar = COALESCE(NULLIF(excluded.avatar, ''), chats.avatar),
			last_message_time = MAX(chats.last_message_time, excluded.last_message_time)`,
		chat.ID, chat.Name, chat.IsGroup, chat.Avatar, lastMessageTime,
	)
	return err
}

func (s *MessageStore) InsertMessage(chatID string, msg types.RawMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, chat_id, sender, text, timestamp, from_me, media_type, media_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, chat_id) DO UPDATE SET
			sender = excluded.sender,
			text = excluded.text,
			timestamp = excluded.timestamp,
			from_me = excluded.from_me,
			media_type = COALESCE(NULLIF(excluded.media_type, ''), messages.media_type),
			media_path = COALESCE(NULLIF(excluded.media_path, ''), messages.media_path)`,
		msg.ID, chatID, msg.Sender, msg.Text, msg.Timestamp, msg.FromMe, msg.MediaType, msg.MediaPath,
	)
	return err
}

// ChatMessages returns one page of a chat's history in timestamp order.
func (s *MessageStore) ChatMessages(chatID string, limit, offset int) ([]types.RawMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, text, timestamp, from_me, media_type, media_path
		 FROM messages WHERE chat_id = ?
		 ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?`,
		chatID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.RawMessage
	for rows.Next() {
		var m types.RawMessage
		var mediaType, mediaPath sql.NullString
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &m.Timestamp, &m.FromMe, &mediaType, &mediaPath); err != nil {
			return nil, err
		}
		m.MediaType = mediaType.String
		m.MediaPath = mediaPath.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages reports a chat's total history size.
func (s *MessageStore) CountMessages(chatID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&count)
	return count, err
}

// ChatByID resolves an explicit export target.
func (s *MessageStore) ChatByID(id string) (types.ChatDescriptor, error) {
	var chat types.ChatDescriptor
	var name, avatar sql.NullString
	err := s.db.QueryRow(
		`SELECT id, name, is_group, avatar FROM chats WHERE id = ?`, id,
	).Scan(&chat.ID, &name, &chat.IsGroup, &avatar)
	if err != nil {
		return types.ChatDescriptor{}, err
	}
	chat.Name = name.String
	chat.Avatar = avatar.String
	if chat.Name == "" {
		chat.Name = chat.ID
	}
	return chat, nil
}

// ActiveChat returns the most recently active chat, the privileged-side
// notion of "whatever is currently open".
func (s *MessageStore) ActiveChat() (types.ChatDescriptor, error) {
	var chat types.ChatDescriptor
	var name, avatar sql.NullString
	err := s.db.QueryRow(
		`SELECT id, name, is_group, avatar FROM chats
		 ORDER BY last_message_time DESC LIMIT 1`,
	).Scan(&chat.ID, &name, &chat.IsGroup, &avatar)
	if err != nil {
		return types.ChatDescriptor{}, err
	}
	chat.Name = name.String
	chat.Avatar = avatar.String
	if chat.Name == "" {
		chat.Name = chat.ID
	}
	return chat, nil
}

// Contacts lists non-group chats as directory entries.
func (s *MessageStore) Contacts() ([]types.Contact, error) {
	rows, err := s.db.Query(
		`SELECT id, name FROM chats WHERE is_group = 0 ORDER BY name LIMIT 500`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []types.Contact
	for rows.Next() {
		var c types.Contact
		var name sql.NullString
		if err := rows.Scan(&c.ID, &name); err != nil {
			return nil, err
		}
		c.Name = name.String
		if idx := strings.IndexByte(c.ID, '@'); idx > 0 {
			c.Phone = c.ID[:idx]
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
