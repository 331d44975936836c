package database

const messageColumns = `m.id, m.sender_id, m.receiver_id, m.content, m.message_type,
		m.file_url, m.file_name, m.file_size, m.mime_type, m.status,
		m.is_edited, m.reply_to, m.created_at, m.updated_at`

// User queries
const (
	UpsertUserQuery = `
		INSERT INTO users (id, username, first_name, last_name, avatar, is_online, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			avatar = excluded.avatar
	`

	SelectUserByIDQuery = `
		SELECT id, username, first_name, last_name, avatar, is_online, last_seen
		FROM users
		WHERE id = ?
	`

	SelectUserExistsQuery = `SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`

	UpdateUserPresenceQuery = `
		UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?
	`

	SelectUsersExceptQuery = `
		SELECT id, username, first_name, last_name, avatar, is_online, last_seen
		FROM users
		WHERE id <> ?
		ORDER BY is_online DESC, last_name ASC, first_name ASC
	`

	SearchUsersExceptQuery = `
		SELECT id, username, first_name, last_name, avatar, is_online, last_seen
		FROM users
		WHERE id <> ?
		  AND (username LIKE ? ESCAPE '\' OR first_name LIKE ? ESCAPE '\' OR last_name LIKE ? ESCAPE '\')
		ORDER BY is_online DESC, last_name ASC, first_name ASC
		LIMIT ?
	`
)

// Message queries
const (
	InsertMessageQuery = `
		INSERT INTO messages (
			id, sender_id, receiver_id, content, message_type,
			file_url, file_name, file_size, mime_type, status,
			is_edited, reply_to, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectMessageByIDQuery = `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.id = ?
	`

	UpdateMessageQuery = `
		UPDATE messages
		SET content = ?, status = ?, is_edited = ?, file_url = ?, file_name = ?,
			file_size = ?, mime_type = ?, updated_at = ?
		WHERE id = ?
	`

	// Conversation queries take (viewer, other, other, viewer, viewer).
	conversationFilter = `
		WHERE ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))
		  AND NOT EXISTS (
			SELECT 1 FROM message_receipts r
			WHERE r.message_id = m.id AND r.user_id = ? AND r.kind = 'deleted'
		  )
	`

	CountConversationQuery = `SELECT COUNT(*) FROM messages m` + conversationFilter

	SelectConversationPageQuery = `
		SELECT ` + messageColumns + `
		FROM messages m` + conversationFilter + `
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?
	`

	CountUnreadQuery = `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.receiver_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM message_receipts r
			WHERE r.message_id = m.id AND r.user_id = m.receiver_id AND r.kind IN ('read', 'deleted')
		  )
	`
)

// Sub-state queries
const (
	InsertReceiptQuery = `
		INSERT OR IGNORE INTO message_receipts (message_id, user_id, kind, at)
		VALUES (?, ?, ?, ?)
	`

	InsertEditQuery = `
		INSERT INTO message_edits (message_id, seq, content, edited_by, edited_at)
		VALUES (?, ?, ?, ?, ?)
	`

	DeleteReactionsQuery = `DELETE FROM message_reactions WHERE message_id = ?`

	InsertReactionQuery = `
		INSERT INTO message_reactions (message_id, user_id, reaction, created_at)
		VALUES (?, ?, ?, ?)
	`

	selectReceiptsPrefix  = `SELECT message_id, user_id, kind, at FROM message_receipts WHERE message_id IN (`
	selectEditsPrefix     = `SELECT message_id, seq, content, edited_by, edited_at FROM message_edits WHERE message_id IN (`
	selectReactionsPrefix = `SELECT message_id, user_id, reaction, created_at FROM message_reactions WHERE message_id IN (`
)

const (
	receiptDelivered = "delivered"
	receiptRead      = "read"
	receiptDeleted   = "deleted"
)
