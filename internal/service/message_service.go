package service

import (
	"context"
	"time"

	"pingme/internal/constants"
	apperrors "pingme/internal/errors"
	"pingme/internal/metrics"
	"pingme/internal/models"
	"pingme/internal/tracing"
	"pingme/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// MessageStore is the durable store the engine reads and mutates messages
// through. GetMessage returns nil when the message does not exist;
// UpdateMessage returns a NotFound error instead.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	UpdateMessage(ctx context.Context, id string, fn func(*models.Message) error) (*models.Message, error)
	QueryConversation(ctx context.Context, viewer, other string, page, pageSize int) (*models.ConversationPage, error)
	CountUnreadFor(ctx context.Context, userID string) (int, error)
}

// UserStore resolves user identities.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error)
	UserExists(ctx context.Context, id string) (bool, error)
	ListUsers(ctx context.Context, excludeID string) ([]*models.User, error)
	SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]*models.User, error)
}

// Uploader stores a file and returns where it can be fetched.
type Uploader interface {
	Store(ctx context.Context, upload *models.Upload) (*models.StoredFile, error)
}

// Draft is the content of a message being sent or replied.
type Draft struct {
	Content string
	Type    models.MessageType
	File    *models.Upload
}

// ConversationResult is a conversation page plus the incoming messages the
// fetch marked delivered.
type ConversationResult struct {
	Page      *models.ConversationPage
	Delivered []*models.Message
}

// MessageService enforces the message lifecycle. Every mutation is atomic
// with respect to one message. Mutations that report changed=false left the
// message as it was.
type MessageService interface {
	Send(ctx context.Context, senderID, receiverID string, draft Draft) (*models.Message, error)
	Reply(ctx context.Context, userID, originalID string, draft Draft) (*models.Message, error)
	Edit(ctx context.Context, messageID, editorID, content string) (*models.Message, error)
	AddReaction(ctx context.Context, messageID, userID, symbol string) (*models.Message, bool, error)
	RemoveReaction(ctx context.Context, messageID, userID string) (*models.Message, bool, error)
	MarkDelivered(ctx context.Context, messageID, userID string) (*models.Message, bool, error)
	MarkRead(ctx context.Context, messageID, userID string) (*models.Message, bool, error)
	SoftDelete(ctx context.Context, messageID, userID string) (*models.Message, error)
	GetMessage(ctx context.Context, messageID, viewerID string) (*models.Message, error)
	Conversation(ctx context.Context, viewerID, otherID string, page, pageSize int) (*ConversationResult, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type messageService struct {
	logger   *logrus.Logger
	errLog   *apperrors.Logger
	store    MessageStore
	users    UserStore
	uploader Uploader
	limits   models.MessagesConfig
	now      func() time.Time
	newID    func() string
}

// Option customizes the message service.
type Option func(*messageService)

// WithLimits overrides the content length and page size limits.
func WithLimits(cfg models.MessagesConfig) Option {
	return func(s *messageService) {
		if cfg.DefaultPageSize > 0 {
			s.limits.DefaultPageSize = cfg.DefaultPageSize
		}
		if cfg.MaxPageSize > 0 {
			s.limits.MaxPageSize = cfg.MaxPageSize
		}
		if cfg.MaxContentLength > 0 {
			s.limits.MaxContentLength = cfg.MaxContentLength
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *messageService) { s.now = now }
}

// WithIDGenerator replaces the UUID generator used for new message ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *messageService) { s.newID = newID }
}

func NewMessageService(store MessageStore, users UserStore, uploader Uploader, logger *logrus.Logger, opts ...Option) MessageService {
	if logger == nil {
		logger = logrus.New()
	}
	s := &messageService{
		logger:   logger,
		errLog:   apperrors.WrapLogger(logger),
		store:    store,
		users:    users,
		uploader: uploader,
		limits: models.MessagesConfig{
			DefaultPageSize:  constants.DefaultPageSize,
			MaxPageSize:      constants.DefaultMaxPageSize,
			MaxContentLength: constants.DefaultMaxContentLength,
		},
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// begin opens a span for operation and returns a func that records the
// outcome. Call it with a pointer to the operation's named error result.
func (s *messageService) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "message."+operation, append(attrs, attribute.String("operation", operation))...)
	return ctx, func(errp *error) {
		err := *errp
		result := "success"
		if err != nil {
			result = string(apperrors.GetCode(err))
			s.errLog.LogByCode(err, "Message operation failed", logrus.Fields{
				LogFieldOperation: operation,
				LogFieldRequestID: tracing.GetRequestID(ctx),
			})
		}
		metrics.IncrementCounter("message_operations_total", map[string]string{
			"operation": operation,
			"result":    result,
		}, "Message lifecycle operations by outcome")
		metrics.RecordTimer("message_operation_duration", time.Since(start), map[string]string{
			"operation": operation,
		}, "Message lifecycle operation duration")
		tracing.EndSpan(span, err)
	}
}

func (s *messageService) Send(ctx context.Context, senderID, receiverID string, draft Draft) (_ *models.Message, err error) {
	ctx, done := s.begin(ctx, "send")
	defer done(&err)

	if err := validation.ValidateUserID(senderID); err != nil {
		return nil, err
	}
	if err := validation.ValidateUserID(receiverID); err != nil {
		return nil, err
	}
	return s.create(ctx, senderID, receiverID, nil, draft)
}

func (s *messageService) Reply(ctx context.Context, userID, originalID string, draft Draft) (_ *models.Message, err error) {
	ctx, done := s.begin(ctx, "reply")
	defer done(&err)

	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := validation.ValidateMessageID(originalID); err != nil {
		return nil, err
	}

	original, err := s.store.GetMessage(ctx, originalID)
	if err != nil {
		return nil, storeError("get message", err)
	}
	if original == nil {
		return nil, apperrors.NewNotFoundError("Message", originalID)
	}
	if err := requireParticipant(original, userID, "reply to this message"); err != nil {
		return nil, err
	}

	replyTo := original.ID
	return s.create(ctx, userID, original.Counterparty(userID), &replyTo, draft)
}

// create validates the draft, uploads any file and persists the message.
// The upload happens first so a failed upload never leaves a message.
func (s *messageService) create(ctx context.Context, senderID, receiverID string, replyTo *string, draft Draft) (*models.Message, error) {
	if senderID == receiverID {
		return nil, apperrors.NewValidationError("receiver", "cannot send a message to yourself")
	}

	msgType := draft.Type
	if msgType == "" {
		msgType = models.MessageTypeText
		if draft.File != nil {
			msgType = models.MediaTypeForMIME(draft.File.ContentType)
		}
	}
	if err := validation.ValidateMessageType(msgType); err != nil {
		return nil, err
	}
	if msgType == models.MessageTypeText {
		if draft.File != nil {
			return nil, apperrors.NewValidationError("file", "text messages cannot carry a file")
		}
		if err := validation.ValidateContent(draft.Content, s.limits.MaxContentLength); err != nil {
			return nil, err
		}
	} else if draft.File == nil {
		return nil, apperrors.NewValidationError("file", "a file is required for "+string(msgType)+" messages")
	}

	for _, id := range []string{senderID, receiverID} {
		exists, err := s.users.UserExists(ctx, id)
		if err != nil {
			return nil, storeError("check user", err)
		}
		if !exists {
			return nil, notFoundUser(id)
		}
	}

	now := s.now()
	m := &models.Message{
		ID:          s.newID(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     draft.Content,
		Type:        msgType,
		Status:      models.MessageStatusSent,
		DeliveredTo: []models.Receipt{},
		ReadBy:      []models.Receipt{},
		DeletedFor:  []models.Receipt{},
		EditHistory: []models.EditEntry{},
		ReplyTo:     replyTo,
		Reactions:   []models.Reaction{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if draft.File != nil {
		stored, err := s.upload(ctx, draft.File)
		if err != nil {
			return nil, err
		}
		m.Content = stored.URL
		m.FileURL = stored.URL
		m.FileName = stored.FileName
		m.FileSize = stored.Size
		m.MimeType = stored.MimeType
	}

	if err := s.store.CreateMessage(ctx, m); err != nil {
		m.Status = models.MessageStatusFailed
		metrics.IncrementCounter("messages_failed_total", map[string]string{"type": string(m.Type)},
			"Messages that could not be persisted")
		LogWithContext(ctx, s.logger).WithFields(messageFields(ctx, m)).WithError(err).Error("Failed to persist message")
		return nil, storeError("create message", err)
	}

	metrics.IncrementCounter("messages_sent_total", map[string]string{"type": string(m.Type)}, "Messages created")
	LogWithContext(ctx, s.logger).WithFields(messageFields(ctx, m)).Debug("Message created")
	return m, nil
}

func (s *messageService) upload(ctx context.Context, file *models.Upload) (*models.StoredFile, error) {
	if s.uploader == nil {
		return nil, apperrors.NewUploadError(file.FileName, errNoUploader)
	}
	stored, err := s.uploader.Store(ctx, file)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Code == apperrors.ErrCodeInvalidInput {
			return nil, err
		}
		return nil, apperrors.NewUploadError(file.FileName, err)
	}
	return stored, nil
}

func (s *messageService) Edit(ctx context.Context, messageID, editorID, content string) (_ *models.Message, err error) {
	ctx, done := s.begin(ctx, "edit")
	defer done(&err)

	if err := validation.ValidateContent(content, s.limits.MaxContentLength); err != nil {
		return nil, err
	}
	m, _, err := s.mutate(ctx, messageID, editorID, func(m *models.Message, at time.Time) (bool, error) {
		return applyEdit(m, editorID, content, at)
	})
	return m, err
}

func (s *messageService) AddReaction(ctx context.Context, messageID, userID, symbol string) (_ *models.Message, _ bool, err error) {
	ctx, done := s.begin(ctx, "add_reaction")
	defer done(&err)

	if err := validation.ValidateReaction(symbol); err != nil {
		return nil, false, err
	}
	return s.mutate(ctx, messageID, userID, func(m *models.Message, at time.Time) (bool, error) {
		return applyReaction(m, userID, symbol, at)
	})
}

func (s *messageService) RemoveReaction(ctx context.Context, messageID, userID string) (_ *models.Message, _ bool, err error) {
	ctx, done := s.begin(ctx, "remove_reaction")
	defer done(&err)

	return s.mutate(ctx, messageID, userID, func(m *models.Message, at time.Time) (bool, error) {
		return applyRemoveReaction(m, userID, at)
	})
}

func (s *messageService) MarkDelivered(ctx context.Context, messageID, userID string) (_ *models.Message, _ bool, err error) {
	ctx, done := s.begin(ctx, "mark_delivered")
	defer done(&err)

	return s.mutate(ctx, messageID, userID, func(m *models.Message, at time.Time) (bool, error) {
		return applyDelivered(m, userID, at)
	})
}

func (s *messageService) MarkRead(ctx context.Context, messageID, userID string) (_ *models.Message, _ bool, err error) {
	ctx, done := s.begin(ctx, "mark_read")
	defer done(&err)

	return s.mutate(ctx, messageID, userID, func(m *models.Message, at time.Time) (bool, error) {
		return applyRead(m, userID, at)
	})
}

func (s *messageService) SoftDelete(ctx context.Context, messageID, userID string) (_ *models.Message, err error) {
	ctx, done := s.begin(ctx, "soft_delete")
	defer done(&err)

	m, _, err := s.mutate(ctx, messageID, userID, func(m *models.Message, at time.Time) (bool, error) {
		return applySoftDelete(m, userID, at)
	})
	return m, err
}

// mutate validates the identifiers and applies fn to the stored message
// under the store's per-message serialization.
func (s *messageService) mutate(ctx context.Context, messageID, userID string, fn func(*models.Message, time.Time) (bool, error)) (*models.Message, bool, error) {
	if err := validation.ValidateMessageID(messageID); err != nil {
		return nil, false, err
	}
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, false, err
	}
	tracing.AddSpanAttributes(ctx, attribute.String("message.id", messageID))

	var changed bool
	m, err := s.store.UpdateMessage(ctx, messageID, func(m *models.Message) error {
		c, err := fn(m, s.now())
		changed = c
		return err
	})
	if err != nil {
		return nil, false, storeError("update message", err)
	}
	return m, changed, nil
}

// GetMessage returns a message its participant can see.
func (s *messageService) GetMessage(ctx context.Context, messageID, viewerID string) (*models.Message, error) {
	if err := validation.ValidateMessageID(messageID); err != nil {
		return nil, err
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError("get message", err)
	}
	if m == nil {
		return nil, apperrors.NewNotFoundError("Message", messageID)
	}
	if err := requireParticipant(m, viewerID, "view this message"); err != nil {
		return nil, err
	}
	if m.DeletedForUser(viewerID) {
		return nil, apperrors.NewNotFoundError("Message", messageID)
	}
	return m, nil
}

// Conversation returns one page between viewer and other and marks the
// incoming messages on it delivered to viewer. Delivery marking is best
// effort; a failure is logged and the page is still returned.
func (s *messageService) Conversation(ctx context.Context, viewerID, otherID string, page, pageSize int) (_ *ConversationResult, err error) {
	ctx, done := s.begin(ctx, "conversation")
	defer done(&err)

	if err := validation.ValidateUserID(viewerID); err != nil {
		return nil, err
	}
	if err := validation.ValidateUserID(otherID); err != nil {
		return nil, err
	}
	exists, err := s.users.UserExists(ctx, otherID)
	if err != nil {
		return nil, storeError("check user", err)
	}
	if !exists {
		return nil, notFoundUser(otherID)
	}

	page, pageSize = validation.NormalizePage(page, pageSize, s.limits.DefaultPageSize, s.limits.MaxPageSize)
	result, err := s.store.QueryConversation(ctx, viewerID, otherID, page, pageSize)
	if err != nil {
		return nil, storeError("query conversation", err)
	}

	out := &ConversationResult{Page: result}
	for i, m := range result.Messages {
		if m.ReceiverID != viewerID || m.DeliveredToUser(viewerID) {
			continue
		}
		updated, changed, err := s.mutate(ctx, m.ID, viewerID, func(m *models.Message, at time.Time) (bool, error) {
			return applyDelivered(m, viewerID, at)
		})
		if err != nil {
			LogWithContext(ctx, s.logger).WithFields(logrus.Fields{
				LogFieldMessageID: MessageField(ctx, m.ID),
				LogFieldUserID:    UserField(ctx, viewerID),
			}).WithError(err).Warn("Failed to mark fetched message delivered")
			continue
		}
		result.Messages[i] = updated
		if changed {
			out.Delivered = append(out.Delivered, updated)
		}
	}
	return out, nil
}

func (s *messageService) UnreadCount(ctx context.Context, userID string) (int, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return 0, err
	}
	n, err := s.store.CountUnreadFor(ctx, userID)
	if err != nil {
		return 0, storeError("count unread", err)
	}
	return n, nil
}

// storeError keeps domain errors from the store and wraps everything else
// as a database failure.
func storeError(operation string, err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.NewDatabaseError(operation, err)
}
