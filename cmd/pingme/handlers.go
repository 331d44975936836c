package main

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"pingme/internal/auth"
	"pingme/internal/constants"
	apperrors "pingme/internal/errors"
	"pingme/internal/httputil"
	"pingme/internal/models"
	"pingme/internal/service"
	"pingme/internal/tracing"
	"pingme/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	maxJSONBodyBytes   = 1 << 20
	multipartMemoryMax = 8 << 20
)

type messageResponse struct {
	Success bool                `json:"success"`
	Message *models.MessageView `json:"message"`
}

type countResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

type usersResponse struct {
	Success bool           `json:"success"`
	Users   []*models.User `json:"users"`
}

type userResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user"`
}

type conversationResponse struct {
	Success    bool                  `json:"success"`
	Messages   []*models.MessageView `json:"messages"`
	Pagination models.Pagination     `json:"pagination"`
}

type draftRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
}

type editRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Reaction string `json:"reaction"`
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draft, cleanup, err := s.readDraft(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer cleanup()

		view, err := s.deps.Sync.Send(r.Context(), auth.UserIDFromContext(r.Context()), mux.Vars(r)["userId"], draft)
		s.respondMessage(w, r, http.StatusCreated, view, err)
	}
}

func (s *Server) handleReply() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draft, cleanup, err := s.readDraft(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer cleanup()

		view, err := s.deps.Sync.Reply(r.Context(), auth.UserIDFromContext(r.Context()), mux.Vars(r)["messageId"], draft)
		s.respondMessage(w, r, http.StatusCreated, view, err)
	}
}

func (s *Server) handleEdit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req editRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		view, err := s.deps.Sync.Edit(r.Context(), mux.Vars(r)["messageId"], auth.UserIDFromContext(r.Context()), req.Content)
		s.respondMessage(w, r, http.StatusOK, view, err)
	}
}

func (s *Server) handleAddReaction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reactionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		view, err := s.deps.Sync.AddReaction(r.Context(), mux.Vars(r)["messageId"], auth.UserIDFromContext(r.Context()), req.Reaction)
		s.respondMessage(w, r, http.StatusOK, view, err)
	}
}

func (s *Server) handleRemoveReaction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.deps.Sync.RemoveReaction(r.Context(), mux.Vars(r)["messageId"], auth.UserIDFromContext(r.Context()))
		s.respondMessage(w, r, http.StatusOK, view, err)
	}
}

func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.deps.Sync.MarkRead(r.Context(), mux.Vars(r)["messageId"], auth.UserIDFromContext(r.Context()))
		s.respondMessage(w, r, http.StatusOK, view, err)
	}
}

func (s *Server) handleMarkDelivered() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.deps.Sync.MarkDelivered(r.Context(), mux.Vars(r)["messageId"], auth.UserIDFromContext(r.Context()))
		s.respondMessage(w, r, http.StatusOK, view, err)
	}
}

func (s *Server) handleDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.deps.Sync.SoftDelete(r.Context(), mux.Vars(r)["messageId"], auth.UserIDFromContext(r.Context()))
		s.respondMessage(w, r, http.StatusOK, view, err)
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.deps.Sync.GetMessage(r.Context(), mux.Vars(r)["messageId"], auth.UserIDFromContext(r.Context()))
		s.respondMessage(w, r, http.StatusOK, view, err)
	}
}

func (s *Server) handleConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", s.cfg.Messages.DefaultPageSize)

		conv, err := s.deps.Sync.Conversation(r.Context(), auth.UserIDFromContext(r.Context()), mux.Vars(r)["userId"], page, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, conversationResponse{
			Success:    true,
			Messages:   conv.Messages,
			Pagination: conv.Pagination,
		})
	}
}

func (s *Server) handleUnread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.deps.Sync.UnreadCount(r.Context(), auth.UserIDFromContext(r.Context()))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, countResponse{Success: true, Count: n})
	}
}

func (s *Server) handleOnlineUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := s.deps.Users.Online(r.Context(), auth.UserIDFromContext(r.Context()))
		s.respondUsers(w, r, users, err)
	}
}

func (s *Server) handleAllUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := s.deps.Users.All(r.Context(), auth.UserIDFromContext(r.Context()))
		s.respondUsers(w, r, users, err)
	}
}

func (s *Server) handleSearchUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := s.deps.Users.Search(r.Context(), auth.UserIDFromContext(r.Context()), r.URL.Query().Get("query"))
		s.respondUsers(w, r, users, err)
	}
}

func (s *Server) handleGetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.deps.Users.Get(r.Context(), mux.Vars(r)["userId"])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, userResponse{Success: true, User: user})
	}
}

func (s *Server) respondMessage(w http.ResponseWriter, r *http.Request, status int, view *models.MessageView, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, status, messageResponse{Success: true, Message: view})
}

func (s *Server) respondUsers(w http.ResponseWriter, r *http.Request, users []*models.User, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, usersResponse{Success: true, Users: users})
}

// fail logs err at a level matching its code and writes the error envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	info := tracing.GetRequestInfo(r.Context())
	apperrors.WrapLogger(s.logger).LogByCode(err, "Request failed", logrus.Fields{
		service.LogFieldRequestID: info.RequestID,
		"method":                  r.Method,
		"route":                   r.URL.Path,
	})
	httputil.WriteError(w, r, err)
}

// readDraft accepts either a JSON body or a multipart form carrying an
// optional file part. The returned cleanup closes the uploaded file.
func (s *Server) readDraft(w http.ResponseWriter, r *http.Request) (service.Draft, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req draftRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return service.Draft{}, noop, err
		}
		return service.Draft{Content: req.Content, Type: models.MessageType(req.MessageType)}, noop, nil
	}

	maxMB := s.cfg.Media.MaxSizeMB
	if maxMB <= 0 {
		maxMB = constants.DefaultMaxUploadMB
	}
	limit := int64(maxMB)*constants.BytesPerMegabyte + maxJSONBodyBytes
	if err := validation.ValidateHTTPRequestSize(r, limit); err != nil {
		return service.Draft{}, noop, apperrors.NewValidationError("file",
			"file exceeds the "+strconv.Itoa(maxMB)+"MB limit")
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemoryMax); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.Draft{}, noop, apperrors.NewValidationError("file",
				"file exceeds the "+strconv.Itoa(maxMB)+"MB limit")
		}
		return service.Draft{}, noop, apperrors.NewValidationError("body", "invalid multipart form")
	}

	draft := service.Draft{
		Content: r.FormValue("content"),
		Type:    models.MessageType(r.FormValue("messageType")),
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return draft, cleanup, nil
	}
	if err != nil {
		cleanup()
		return service.Draft{}, noop, apperrors.NewValidationError("file", "unreadable file part")
	}
	draft.File = &models.Upload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
	}
	return draft, func() {
		file.Close()
		cleanup()
	}, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, maxJSONBodyBytes); err != nil {
		return err
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewValidationError("body", "invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
