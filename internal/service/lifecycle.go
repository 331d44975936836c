package service

import (
	"time"

	apperrors "pingme/internal/errors"
	"pingme/internal/models"
)

// The functions in this file apply one lifecycle transition to a message
// in place. They report whether anything changed so callers can skip the
// write and the realtime emission for repeated calls.

// advanceStatus moves m forward to target. It never moves backwards and
// never leaves failed.
func advanceStatus(m *models.Message, target models.MessageStatus) bool {
	if m.Status == models.MessageStatusFailed || target == models.MessageStatusFailed {
		return false
	}
	if target.Rank() <= m.Status.Rank() {
		return false
	}
	m.Status = target
	return true
}

func addReceipt(receipts *[]models.Receipt, userID string, at time.Time) bool {
	for _, r := range *receipts {
		if r.UserID == userID {
			return false
		}
	}
	*receipts = append(*receipts, models.Receipt{UserID: userID, At: at})
	return true
}

func requireParticipant(m *models.Message, userID, action string) error {
	if !m.IsParticipant(userID) {
		return apperrors.NewForbiddenError(action).WithContext("message_id", m.ID)
	}
	return nil
}

func applyDelivered(m *models.Message, userID string, at time.Time) (bool, error) {
	if userID != m.ReceiverID {
		return false, apperrors.NewForbiddenError("mark this message delivered")
	}
	changed := addReceipt(&m.DeliveredTo, userID, at)
	if m.Status == models.MessageStatusSent {
		changed = advanceStatus(m, models.MessageStatusDelivered) || changed
	}
	return touch(m, changed, at), nil
}

// applyRead records the read and back-fills delivery for the same user, so
// a read that overtakes its delivery still leaves both receipts.
func applyRead(m *models.Message, userID string, at time.Time) (bool, error) {
	if userID != m.ReceiverID {
		return false, apperrors.NewForbiddenError("mark this message read")
	}
	changed := addReceipt(&m.DeliveredTo, userID, at)
	changed = addReceipt(&m.ReadBy, userID, at) || changed
	changed = advanceStatus(m, models.MessageStatusSeen) || changed
	return touch(m, changed, at), nil
}

// applyEdit always records history, even when content is unchanged.
func applyEdit(m *models.Message, editorID, content string, at time.Time) (bool, error) {
	if editorID != m.SenderID {
		return false, apperrors.NewForbiddenError("edit this message")
	}
	m.EditHistory = append(m.EditHistory, models.EditEntry{
		Content:  m.Content,
		EditedAt: at,
		EditedBy: editorID,
	})
	m.Content = content
	m.IsEdited = true
	return touch(m, true, at), nil
}

func applySoftDelete(m *models.Message, userID string, at time.Time) (bool, error) {
	if err := requireParticipant(m, userID, "delete this message"); err != nil {
		return false, err
	}
	return touch(m, addReceipt(&m.DeletedFor, userID, at), at), nil
}

// applyReaction keeps at most one reaction per user.
func applyReaction(m *models.Message, userID, symbol string, at time.Time) (bool, error) {
	if err := requireParticipant(m, userID, "react to this message"); err != nil {
		return false, err
	}
	if !models.IsValidReaction(symbol) {
		return false, apperrors.NewValidationError("reaction", "unsupported reaction")
	}
	if existing, ok := m.ReactionBy(userID); ok && existing.Symbol == symbol {
		return false, nil
	}
	dropReaction(m, userID)
	m.Reactions = append(m.Reactions, models.Reaction{UserID: userID, Symbol: symbol, CreatedAt: at})
	return touch(m, true, at), nil
}

func applyRemoveReaction(m *models.Message, userID string, at time.Time) (bool, error) {
	if err := requireParticipant(m, userID, "remove a reaction from this message"); err != nil {
		return false, err
	}
	return touch(m, dropReaction(m, userID), at), nil
}

func dropReaction(m *models.Message, userID string) bool {
	kept := m.Reactions[:0]
	removed := false
	for _, r := range m.Reactions {
		if r.UserID == userID {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	m.Reactions = kept
	return removed
}

func touch(m *models.Message, changed bool, at time.Time) bool {
	if changed {
		m.UpdatedAt = at
	}
	return changed
}
