package database

import (
	"slices"
	"time"
)

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO users (email, display_name, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, email, display_name, created_at",
		params.Email,
		params.DisplayName,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Email,
		&u.DisplayName,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, display_name, created_at FROM users "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Email,
		&user.DisplayName,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, display_name, password_hash, created_at FROM users "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgChatRepository) CreateMessage(room string, senderId int, content string) (Message, error) {
	row := db.conn.QueryRow(
		"INSERT INTO messages (room, sender_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		room,
		senderId,
		content,
		time.Now().UTC(),
	)

	msg := Message{
		Room:     room,
		SenderId: senderId,
		Content:  content,
	}
	err := row.Scan(&msg.Id, &msg.CreatedAt)

	return msg, err
}

func (db *PgChatRepository) GetMessages(room string, limit int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.room, m.content, m.created_at, "+
			"u.id, u.display_name, u.email "+
			"FROM messages m JOIN users u ON m.sender_id = u.id "+
			"WHERE m.room = $1 "+
			"ORDER BY m.created_at DESC, m.id DESC "+
			"LIMIT $2",
		room,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.Room,
			&msg.Content,
			&msg.CreatedAt,
			&msg.SenderId,
			&msg.SenderName,
			&msg.SenderEmail,
		); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// query is newest-first so the LIMIT keeps the most recent messages,
	// callers expect oldest-first
	slices.Reverse(messages)

	return messages, nil
}
