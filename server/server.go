// Package server exposes a device to clients over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/podium/auth"
	"github.com/vinayprograms/podium/broadcast"
	"github.com/vinayprograms/podium/command"
	"github.com/vinayprograms/podium/errors"
	"github.com/vinayprograms/podium/journal"
	"github.com/vinayprograms/podium/logging"
	"github.com/vinayprograms/podium/registry"
	"github.com/vinayprograms/podium/transport"
)

// Device is what the server needs from a running node.
type Device interface {
	Connect(ctx context.Context, clientID string, grant auth.Grant, remote string) (*broadcast.Client, error)
	Disconnect(clientID string)
	Submit(ctx context.Context, req command.Request) command.Result
	View() broadcast.View
	Devices() []registry.DeviceRecord
	Journal(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Dependencies wires a Server.
type Dependencies struct {
	Addr       string
	Device     Device
	Authorizer auth.Authorizer
	Logger     *logging.Logger

	// Conn configures client sockets. Zero value uses defaults.
	Conn transport.ConnConfig

	// CheckOrigin filters WebSocket origins; nil accepts all.
	CheckOrigin func(r *http.Request) bool
}

// Server serves /ws, the JSON API and /healthz.
type Server struct {
	httpServer *http.Server
	device     Device
	authorizer auth.Authorizer
	log        *logging.Logger
	connCfg    transport.ConnConfig
	upgrader   *websocket.Upgrader

	// base is cancelled by Shutdown so open sockets close.
	base   context.Context
	cancel context.CancelFunc
}

// New builds a server. Call Start to listen.
func New(d Dependencies) *Server {
	if d.Authorizer == nil {
		d.Authorizer = auth.OpenAuthorizer{}
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Conn == (transport.ConnConfig{}) {
		d.Conn = transport.DefaultConnConfig()
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		device:     d.Device,
		authorizer: d.Authorizer,
		log:        d.Logger.WithComponent("server"),
		connCfg:    d.Conn,
		base:       base,
		cancel:     cancel,
		upgrader:   transport.NewUpgrader(d.CheckOrigin),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/state", s.withView(s.handleState))
	mux.HandleFunc("GET /api/devices", s.withView(s.handleDevices))
	mux.HandleFunc("GET /api/journal", s.withView(s.handleJournal))
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info("listening", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes client sockets and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

// authorize runs the authorizer and requires the view capability.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (auth.Grant, bool) {
	grant, err := s.authorizer.Authorize(r)
	if err != nil {
		writeError(w, err)
		return auth.Grant{}, false
	}
	if !grant.Has(auth.CapView) {
		writeError(w, errors.Forbidden("view capability required"))
		return auth.Grant{}, false
	}
	return grant, true
}

func (s *Server) withView(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authorize(w, r); !ok {
			return
		}
		h(w, r)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.device.View())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.device.Devices())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := journal.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, errors.InvalidInput("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	entries, err := s.device.Journal(r.Context(), limit)
	if err != nil {
		s.log.Error("journal_read_failed", map[string]interface{}{"error": err.Error()})
		writeError(w, errors.Wrap(err, "reading journal"))
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	v := s.device.View()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"device": v.Device,
	})
}

// handleWS admits a client, then pumps frames until either side leaves.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	grant, ok := s.authorize(w, r)
	if !ok {
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied.
		s.log.Warn("upgrade_failed", map[string]interface{}{"remote": r.RemoteAddr, "error": err.Error()})
		return
	}

	clientID := uuid.NewString()
	client, err := s.device.Connect(s.base, clientID, grant, r.RemoteAddr)
	if err != nil {
		s.log.Warn("connect_failed", map[string]interface{}{"remote": r.RemoteAddr, "error": err.Error()})
		ws.Close()
		return
	}
	defer s.device.Disconnect(clientID)

	conn := transport.NewConn(ws, client, s.connCfg)
	err = conn.Run(s.base, func(ctx context.Context, raw []byte) {
		res := s.device.Submit(ctx, command.Request{ClientID: clientID, Grant: grant, Raw: raw})
		frame, err := broadcast.Encode(broadcast.FrameResult, res)
		if err != nil {
			return
		}
		client.Send(frame)
	})
	if err != nil {
		s.log.Debug("client_conn_closed", map[string]interface{}{"client": clientID, "error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error code to an HTTP status and writes the error in
// its JSON form.
func writeError(w http.ResponseWriter, err error) {
	e := errors.As(err)
	if e == nil {
		e = errors.Wrap(err, "internal error")
	}
	// Client-facing errors carry code and message only.
	e = errors.New(e.Code(), e.Message())
	writeJSON(w, httpStatus(e.Code()), map[string]interface{}{"error": e})
}

func httpStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrCodeUnavailable, errors.ErrCodeNotActive:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
