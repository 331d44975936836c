package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	apperrors "pingme/internal/errors"
	"pingme/internal/models"
)

var (
	// ErrImmutableField is returned when an update changes a field that is
	// fixed once the message exists.
	ErrImmutableField = errors.New("immutable message field changed")
	// ErrReceiptRemoved is returned when an update drops a delivered, read
	// or deleted receipt.
	ErrReceiptRemoved = errors.New("message receipts cannot be removed")
	// ErrHistoryRewritten is returned when an update alters existing edit
	// history entries.
	ErrHistoryRewritten = errors.New("edit history is append-only")
)

// CreateMessage persists a new message together with any sub-state it
// already carries.
func (d *Database) CreateMessage(ctx context.Context, m *models.Message) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("message requires an id")
	}
	return d.withRetry(ctx, "create message", func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var replyTo interface{}
		if m.ReplyTo != nil {
			replyTo = *m.ReplyTo
		}
		if _, err := tx.ExecContext(ctx, InsertMessageQuery,
			m.ID, m.SenderID, m.ReceiverID, m.Content, string(m.Type),
			m.FileURL, m.FileName, m.FileSize, m.MimeType, string(m.Status),
			boolToInt(m.IsEdited), replyTo, toUnixNano(m.CreatedAt), toUnixNano(m.UpdatedAt),
		); err != nil {
			return err
		}

		empty := &models.Message{ID: m.ID}
		if err := writeSubState(ctx, tx, empty, m); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetMessage returns nil when the message does not exist.
func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := loadMessage(ctx, d.db, id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get message", err)
	}
	return m, nil
}

// UpdateMessage loads the message, applies fn to a copy and persists the
// result in one transaction. Updates to the same message are serialized.
// fn may run more than once when SQLite reports a transient lock, so it
// must only mutate the message it is given. When fn leaves the message
// unchanged nothing is written.
func (d *Database) UpdateMessage(ctx context.Context, id string, fn func(*models.Message) error) (*models.Message, error) {
	unlock := d.locks.Lock(id)
	defer unlock()

	var result *models.Message
	err := d.withRetry(ctx, "update message", func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		before, err := loadMessage(ctx, tx, id)
		if err != nil {
			return err
		}
		if before == nil {
			return apperrors.NewNotFoundError("Message", id)
		}

		after := before.Clone()
		if err := fn(after); err != nil {
			return err
		}
		if reflect.DeepEqual(before, after) {
			result = after
			return nil
		}
		if err := checkImmutable(before, after); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, UpdateMessageQuery,
			after.Content, string(after.Status), boolToInt(after.IsEdited),
			after.FileURL, after.FileName, after.FileSize, after.MimeType,
			toUnixNano(after.UpdatedAt), id,
		); err != nil {
			return err
		}
		if err := writeSubState(ctx, tx, before, after); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		result = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// QueryConversation returns one page of the conversation between viewer
// and other, hiding messages viewer deleted for themselves. Pages are
// counted from the newest message; each page is returned oldest first.
func (d *Database) QueryConversation(ctx context.Context, viewer, other string, page, pageSize int) (*models.ConversationPage, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d or page size %d", page, pageSize)
	}
	filterArgs := []interface{}{viewer, other, other, viewer, viewer}

	var total int
	if err := d.db.QueryRowContext(ctx, CountConversationQuery, filterArgs...).Scan(&total); err != nil {
		return nil, apperrors.NewDatabaseError("count conversation", err)
	}

	args := append(filterArgs, pageSize, (page-1)*pageSize)
	rows, err := d.db.QueryContext(ctx, SelectConversationPageQuery, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query conversation", err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, apperrors.NewDatabaseError("scan conversation", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if err := loadSubState(ctx, d.db, messages); err != nil {
		return nil, apperrors.NewDatabaseError("load conversation state", err)
	}

	return &models.ConversationPage{
		Messages:   messages,
		Pagination: models.NewPagination(page, pageSize, total),
	}, nil
}

// CountUnreadFor counts messages received by userID that they have neither
// read nor deleted.
func (d *Database) CountUnreadFor(ctx context.Context, userID string) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, CountUnreadQuery, userID).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("count unread", err)
	}
	return count, nil
}

func checkImmutable(before, after *models.Message) error {
	switch {
	case before.ID != after.ID,
		before.SenderID != after.SenderID,
		before.ReceiverID != after.ReceiverID,
		before.Type != after.Type,
		!before.CreatedAt.Equal(after.CreatedAt),
		!sameReplyTo(before.ReplyTo, after.ReplyTo):
		return ErrImmutableField
	}
	return nil
}

func sameReplyTo(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// writeSubState persists the difference between before and after.
// Receipts and edit history only grow; reactions are rewritten when they
// differ.
func writeSubState(ctx context.Context, q querier, before, after *models.Message) error {
	receiptSets := []struct {
		kind          string
		before, after []models.Receipt
	}{
		{receiptDelivered, before.DeliveredTo, after.DeliveredTo},
		{receiptRead, before.ReadBy, after.ReadBy},
		{receiptDeleted, before.DeletedFor, after.DeletedFor},
	}
	for _, set := range receiptSets {
		for _, r := range set.before {
			if !containsReceipt(set.after, r.UserID) {
				return ErrReceiptRemoved
			}
		}
		for _, r := range set.after {
			if containsReceipt(set.before, r.UserID) {
				continue
			}
			if _, err := q.ExecContext(ctx, InsertReceiptQuery, after.ID, r.UserID, set.kind, toUnixNano(r.At)); err != nil {
				return err
			}
		}
	}

	if len(after.EditHistory) < len(before.EditHistory) {
		return ErrHistoryRewritten
	}
	for i, e := range after.EditHistory {
		if i < len(before.EditHistory) {
			if !reflect.DeepEqual(before.EditHistory[i], e) {
				return ErrHistoryRewritten
			}
			continue
		}
		if _, err := q.ExecContext(ctx, InsertEditQuery, after.ID, i, e.Content, e.EditedBy, toUnixNano(e.EditedAt)); err != nil {
			return err
		}
	}

	if reflect.DeepEqual(before.Reactions, after.Reactions) {
		return nil
	}
	if _, err := q.ExecContext(ctx, DeleteReactionsQuery, after.ID); err != nil {
		return err
	}
	for _, r := range after.Reactions {
		if _, err := q.ExecContext(ctx, InsertReactionQuery, after.ID, r.UserID, r.Symbol, toUnixNano(r.CreatedAt)); err != nil {
			return err
		}
	}
	return nil
}

func containsReceipt(receipts []models.Receipt, userID string) bool {
	for _, r := range receipts {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func loadMessage(ctx context.Context, q querier, id string) (*models.Message, error) {
	rows, err := q.QueryContext(ctx, SelectMessageByIDQuery, id)
	if err != nil {
		return nil, err
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	if err := loadSubState(ctx, q, messages); err != nil {
		return nil, err
	}
	return messages[0], nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		var (
			m                    models.Message
			msgType, status      string
			isEdited             int
			replyTo              sql.NullString
			createdAt, updatedAt int64
		)
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &msgType,
			&m.FileURL, &m.FileName, &m.FileSize, &m.MimeType, &status,
			&isEdited, &replyTo, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		m.Type = models.MessageType(msgType)
		m.Status = models.MessageStatus(status)
		m.IsEdited = isEdited != 0
		if replyTo.Valid {
			id := replyTo.String
			m.ReplyTo = &id
		}
		m.CreatedAt = fromUnixNano(createdAt)
		m.UpdatedAt = fromUnixNano(updatedAt)
		m.DeliveredTo = []models.Receipt{}
		m.ReadBy = []models.Receipt{}
		m.DeletedFor = []models.Receipt{}
		m.EditHistory = []models.EditEntry{}
		m.Reactions = []models.Reaction{}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// loadSubState fills receipts, edit history and reactions for messages.
func loadSubState(ctx context.Context, q querier, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	byID := make(map[string]*models.Message, len(messages))
	args := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
		args = append(args, m.ID)
	}
	in := strings.TrimSuffix(strings.Repeat("?,", len(messages)), ",") + ")"

	rows, err := q.QueryContext(ctx, selectReceiptsPrefix+in+" ORDER BY at, user_id", args...)
	if err != nil {
		return err
	}
	if err := forEachRow(rows, func(rows *sql.Rows) error {
		var messageID, userID, kind string
		var at int64
		if err := rows.Scan(&messageID, &userID, &kind, &at); err != nil {
			return err
		}
		m := byID[messageID]
		r := models.Receipt{UserID: userID, At: fromUnixNano(at)}
		switch kind {
		case receiptDelivered:
			m.DeliveredTo = append(m.DeliveredTo, r)
		case receiptRead:
			m.ReadBy = append(m.ReadBy, r)
		case receiptDeleted:
			m.DeletedFor = append(m.DeletedFor, r)
		}
		return nil
	}); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx, selectEditsPrefix+in+" ORDER BY seq", args...)
	if err != nil {
		return err
	}
	if err := forEachRow(rows, func(rows *sql.Rows) error {
		var messageID string
		var seq int
		var e models.EditEntry
		var at int64
		if err := rows.Scan(&messageID, &seq, &e.Content, &e.EditedBy, &at); err != nil {
			return err
		}
		e.EditedAt = fromUnixNano(at)
		byID[messageID].EditHistory = append(byID[messageID].EditHistory, e)
		return nil
	}); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx, selectReactionsPrefix+in+" ORDER BY created_at, user_id", args...)
	if err != nil {
		return err
	}
	return forEachRow(rows, func(rows *sql.Rows) error {
		var messageID string
		var r models.Reaction
		var at int64
		if err := rows.Scan(&messageID, &r.UserID, &r.Symbol, &at); err != nil {
			return err
		}
		r.CreatedAt = fromUnixNano(at)
		byID[messageID].Reactions = append(byID[messageID].Reactions, r)
		return nil
	})
}

func forEachRow(rows *sql.Rows, fn func(*sql.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
