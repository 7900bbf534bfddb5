package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adwski/chatroom-server/backend/model"
	"github.com/adwski/chatroom-server/backend/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 4096
	defaultWebsocketWriteBufferSize    = 4096
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second

	defaultWireSize = 256
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	SessionService interface {
		Connect(ctx context.Context, connID, token string, wire model.Wire) (string, error)
		Handle(connID string, evt model.Event) error
		Disconnect(connID string)
	}

	Config struct {
		Logger         *zerolog.Logger
		SessionService SessionService
		ListenAddr     string
		AllowedOrigin  string
	}

	Server struct {
		svc SessionService
		ws  *websocket.Upgrader
		*http.Server

		// sessions outlive requests, they are cancelled on shutdown
		sessCtx    context.Context
		sessCancel context.CancelFunc

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:    cfg.SessionService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      checkOrigin(cfg.AllowedOrigin),
		},
	}
	srv.sessCtx, srv.sessCancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", srv.chat)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func checkOrigin(allowed string) func(r *http.Request) bool {
	if allowed == "" || allowed == "*" {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == allowed
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		srv.sessCancel()
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		srv.sessCancel()
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

// bearerToken takes the credential from the token query parameter or
// from the Authorization header.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (srv *Server) chat(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	logger := srv.logger.With().Str("connID", connID).Logger()
	wire := model.NewWire(defaultWireSize)

	ctx, cancel := context.WithCancel(srv.sessCtx)

	username, err := srv.svc.Connect(ctx, connID, token, wire)
	if err != nil {
		cancel()
		logger.Warn().Err(err).Msg("session rejected")
		if errors.Is(err, service.ErrAuthentication) {
			webSocketCloser(conn, websocket.ClosePolicyViolation, "authentication failed", &logger)
		} else {
			webSocketCloser(conn, websocket.CloseNormalClosure, "", &logger)
		}
		return
	}

	logger = logger.With().Str("username", username).Logger()
	logger.Debug().Msg("session created")

	go srv.handleWSConn(ctx, cancel, conn, connID, wire, &logger)
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	connID string,
	wire model.Wire,
	logger *zerolog.Logger,
) {
	wg := &sync.WaitGroup{}

	wg.Add(2)
	go func() {
		srv.webSocketReceiver(ctx, wg, conn, connID, logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, logger)
		cancel()
		// the sender is the only writer, closing here unblocks the receiver
		webSocketCloser(conn, websocket.CloseNormalClosure, "", logger)
	}()

	wg.Wait()
	srv.svc.Disconnect(connID)
	logger.Debug().Msg("session ended")
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Announcement,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			flush(conn, tx, logger)
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case ann := <-tx:
			if err := writeAnnouncement(conn, ann); err != nil {
				logger.Error().Err(err).Str("type", ann.Type).Msg("failed to write outgoing message")
				if !errors.Is(err, errMarshal) {
					break SendLoop
				}
			}
		}
	}
}

var errMarshal = errors.New("failed to marshall outgoing message")

func writeAnnouncement(conn *websocket.Conn, ann model.Announcement) error {
	b, err := json.Marshal(&ann)
	if err != nil {
		return errors.Join(errMarshal, err)
	}
	if err = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// flush writes announcements that were queued before the session ended.
func flush(conn *websocket.Conn, tx <-chan model.Announcement, logger *zerolog.Logger) {
	for {
		select {
		case ann := <-tx:
			if err := writeAnnouncement(conn, ann); err != nil {
				logger.Trace().Err(err).Str("type", ann.Type).Msg("failed to flush outgoing message")
				if !errors.Is(err, errMarshal) {
					return
				}
			}
		default:
			return
		}
	}
}

func (srv *Server) webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	connID string,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

	for {
		_, msg, wsErr := conn.ReadMessage()
		if wsErr != nil {
			switch {
			case ctx.Err() != nil:
				logger.Trace().Err(wsErr).Msg("receive interrupted")
			case websocket.IsCloseError(wsErr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway):
				logger.Debug().Err(wsErr).Msg("connection closed")
			default:
				logger.Error().Err(wsErr).Msg("unexpected error during receive")
			}
			return
		}

		var evt model.Event
		if wsErr = json.Unmarshal(msg, &evt); wsErr != nil {
			logger.Debug().Err(wsErr).Msg("failed to unmarshall incoming message")
			continue
		}
		if err = srv.svc.Handle(connID, evt); err != nil {
			if service.IsTerminal(err) {
				logger.Warn().Err(err).Str("event", evt.Type).Msg("terminating connection")
				return
			}
			logger.Debug().Err(err).Str("event", evt.Type).Msg("event rejected")
		}
	}
}

func webSocketCloser(conn *websocket.Conn, code int, reason string, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Trace().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		if wsErr != nil {
			logger.Trace().Err(wsErr).Msg("failed to send close message")
		}
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Trace().Err(wsErr).Msg("failed to close websocket connection")
	}
}
