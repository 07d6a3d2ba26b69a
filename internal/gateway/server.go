package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/openquill/voxsignal/internal/errors"
	"github.com/openquill/voxsignal/internal/log"
	"github.com/openquill/voxsignal/internal/signaling"
	"github.com/openquill/voxsignal/internal/token"
)

type Config struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MsgRate        float64  `mapstructure:"msg_rate"`
	MsgBurst       int      `mapstructure:"msg_burst"`
}

func Setup(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".msg_rate", 20.0)
	v.SetDefault(prefix+".msg_burst", 40)
}

// Server upgrades HTTP requests to WebSocket sessions and feeds parsed
// events into the sink.
type Server struct {
	cfg      Config
	sink     EventSink
	auth     token.Auth
	registry *Registry
	logger   *log.Logger
}

func NewServer(
	cfg Config,
	sink EventSink,
	auth token.Auth,
	registry *Registry,
	logger *log.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		sink:     sink,
		auth:     auth,
		registry: registry,
		logger:   logger,
	}
}

// verify extracts and checks the JWT from query parameter or header.
func (s *Server) verify(r *http.Request) (*token.Identity, bool, error) {
	t := r.URL.Query().Get("token")
	if t == "" {
		t = r.Header.Get("Authorization")
		t = strings.TrimPrefix(t, "Bearer ")
	}
	if t == "" {
		return nil, false, nil
	}

	identity, err := s.auth.Verify(t)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) || errors.Is(err, token.ErrNoToken) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return identity, true, nil
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, passed, err := s.verify(r)
	if err != nil {
		s.logger.Warn("connection verification error",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		http.Error(w, "fail to verify", http.StatusInternalServerError)
		return
	} else if !passed {
		s.logger.Info("connection verification failed",
			log.String("remote_addr", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Error("websocket accept failed",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		return
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MsgRate), s.cfg.MsgBurst)
	conn := newConn(
		uuid.New().String(),
		identity.UserID,
		identity.DisplayName,
		ws,
		s.registry,
		limiter,
		s.logger.Module("conn"),
	)
	conn.open(r.Context())

	// personal group for point-to-point SDP/ICE relay
	conn.Subscribe(signaling.UserGroup(identity.UserID))
	connectionsActive.Add(context.Background(), 1)

	s.logger.Info("client connected",
		log.String("conn_id", conn.ID()),
		log.String("user_id", identity.UserID),
		log.String("remote_addr", r.RemoteAddr))

	go s.readLoop(conn)
	conn.wait()

	s.sink.OnDisconnect(conn)
	s.registry.RemoveConn(conn.ID())
	connectionsActive.Add(context.Background(), -1)

	s.logger.Info("client disconnected",
		log.String("conn_id", conn.ID()),
		log.String("user_id", identity.UserID))
}

func (s *Server) readLoop(conn *Conn) {
	for {
		var env inboundEnvelope
		if err := conn.read(conn.connCtx, &env); err != nil {
			return
		}
		eventsReceived.Add(context.Background(), 1)

		if !conn.limiter.Allow() {
			rateLimited.Add(context.Background(), 1)
			conn.Send(EventError, errorData{
				Event:   env.Event,
				Message: ErrRateLimited.Error(),
			})
			continue
		}

		if err := dispatch(s.sink, conn, env); err != nil {
			eventErrors.Add(context.Background(), 1)
			s.logger.Debug("event rejected",
				log.String("conn_id", conn.ID()),
				log.String("event", env.Event),
				log.Error(err))
			conn.Send(EventError, errorData{
				Event:   env.Event,
				Message: err.Error(),
			})
		}
	}
}
