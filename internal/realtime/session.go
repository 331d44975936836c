package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pingme/internal/auth"
	"pingme/internal/constants"
	"pingme/internal/httputil"
	"pingme/internal/metrics"
	"pingme/internal/models"
	"pingme/internal/privacy"
	"pingme/internal/service"
	"pingme/internal/tracing"
	"pingme/internal/versioning"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const writeTimeout = 10 * time.Second

// Handler upgrades authenticated requests to websocket sessions attached
// to a Hub.
type Handler struct {
	hub      *Hub
	verifier auth.Verifier
	cfg      models.RealtimeConfig
	origins  []string
	logger   *logrus.Logger
}

// NewHandler returns the websocket endpoint. origins are host patterns
// accepted for cross-origin handshakes; same-origin requests are always
// accepted.
func NewHandler(hub *Hub, verifier auth.Verifier, cfg models.RealtimeConfig, origins []string, logger *logrus.Logger) *Handler {
	if cfg.PingIntervalSec <= 0 {
		cfg.PingIntervalSec = constants.DefaultPingIntervalSec
	}
	if cfg.PongTimeoutSec <= 0 {
		cfg.PongTimeoutSec = constants.DefaultPongTimeoutSec
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = constants.DefaultMaxWSMessageBytes
	}
	return &Handler{hub: hub, verifier: verifier, cfg: cfg, origins: origins, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Authenticate(h.verifier, r)
	if err != nil {
		h.logger.WithField(service.LogFieldRemoteIP, httputil.GetClientIP(r)).Debug("Rejected realtime handshake")
		httputil.WriteError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept has already written the failure response.
		h.logger.WithError(err).WithField(service.LogFieldUserID, privacy.MaskUserID(userID)).Warn("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	peer := NewPeer(userID, PeerConfig{
		SendBuffer:      h.cfg.SendBufferSize,
		EventsPerSecond: h.cfg.EventsPerSecond,
		EventBurst:      h.cfg.EventBurst,
		DeliveryEvents:  versioning.Supports(r.Context(), "delivery_events"),
	})
	if !h.hub.Register(peer) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.hub.Unregister(peer)

	ctx, span := tracing.StartSpan(r.Context(), "realtime.session",
		attribute.String("connection.id", peer.ID()),
		attribute.Bool("delivery_events", peer.cfg.DeliveryEvents),
	)
	started := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := h.logger.WithFields(logrus.Fields{
		service.LogFieldUserID:       privacy.MaskUserID(userID),
		service.LogFieldConnectionID: peer.ID(),
	})
	log.Info("Realtime session opened")
	metrics.IncrementCounter("realtime_sessions_total", nil, "Realtime sessions opened")

	go h.writeLoop(ctx, cancel, conn, peer)
	go h.pingLoop(ctx, cancel, conn, log)
	readErr := h.readLoop(ctx, conn, peer, log)

	status := websocket.CloseStatus(readErr)
	switch {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.WithField(service.LogFieldStatus, status.String()).Info("Realtime session closed by client")
		readErr = nil
	case errors.Is(readErr, context.Canceled):
		log.Info("Realtime session closed by server")
		readErr = nil
	default:
		log.WithError(readErr).Warn("Realtime session ended")
	}
	metrics.RecordTimer("realtime_session_duration", time.Since(started), nil, "Realtime session lifetime")
	tracing.EndSpan(span, readErr)

	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, peer *Peer, log *logrus.Entry) error {
	for {
		typ, frame, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			countInbound("binary")
			continue
		}
		if !peer.Allow() {
			countInbound("rate_limited")
			log.Debug("Dropped inbound event over rate limit")
			continue
		}

		in, err := DecodeInbound(frame)
		if err != nil {
			countInbound("malformed")
			log.WithError(err).Debug("Dropped malformed inbound event")
			continue
		}
		if err := h.hub.Dispatch(peer.UserID(), in); err != nil {
			countInbound("rejected")
			log.WithError(err).Debug("Dropped inbound event")
			continue
		}
		countInbound("dispatched")
	}
}

func countInbound(result string) {
	metrics.IncrementCounter("realtime_inbound_total", map[string]string{"result": result}, "Inbound realtime events by outcome")
}

// writeLoop drains the peer queue onto the connection. It ends the session
// when a write fails or the hub closes the peer.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, peer *Peer) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-peer.Done():
			return
		case frame := <-peer.Outbound():
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

// pingLoop ends the session when the client stops answering pings.
func (h *Handler) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, log *logrus.Entry) {
	ticker := time.NewTicker(time.Duration(h.cfg.PingIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, time.Duration(h.cfg.PongTimeoutSec)*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Info("Realtime peer missed heartbeat")
					metrics.IncrementCounter("realtime_heartbeat_failures_total", nil, "Sessions closed after a missed pong")
				}
				cancel()
				return
			}
		}
	}
}
