// Package devserver is a reference room server speaking the roomsync
// protocol. It keeps rooms in memory, mirrors each room's files into a
// working directory, and gives every member a shell in that directory.
package devserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/codetogether/roomsync/internal/auth"
	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/pty"
)

// Defaults for Config fields left zero.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultShellGrace   = 30 * time.Second
	DefaultInputRate    = rate.Limit(1000)
	DefaultInputBurst   = 10
)

// channelBufferSize is each client's outbound queue length.
const channelBufferSize = 256

// Config holds reference server settings.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:7070".
	Addr string

	// RoomsDir holds one working directory per room. If empty, a
	// temporary directory is created and removed on Stop.
	RoomsDir string

	// Shell is the command run in each member terminal. If empty, $SHELL,
	// falling back to /bin/sh.
	Shell string

	// MaxShells caps concurrent terminals (0: pty.DefaultMaxSessions).
	MaxShells int

	// ShellGrace is how long a member's shell outlives their last
	// connection, so a reconnecting member reattaches to it.
	ShellGrace time.Duration

	// PollInterval is how often working directories are scanned for
	// changes made from terminals. Negative disables scanning.
	PollInterval time.Duration

	// InputRate and InputBurst limit terminal input per connection.
	InputRate  rate.Limit
	InputBurst int

	// JoinAttemptsPerMinute limits password guesses per room and address.
	JoinAttemptsPerMinute int
}

// Server is the reference room server.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *log.Logger
	shells   *pty.Manager
	attempts *auth.AttemptLimiter

	roomsDir     string
	ownsRoomsDir bool

	mu         sync.RWMutex
	rooms      map[string]*Room
	clients    map[*Client]bool
	stopped    bool
	httpServer *http.Server
	listener   net.Listener
}

// New creates a server. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Shell == "" {
		cfg.Shell = os.Getenv("SHELL")
		if cfg.Shell == "" {
			cfg.Shell = "/bin/sh"
		}
	}
	if cfg.ShellGrace == 0 {
		cfg.ShellGrace = DefaultShellGrace
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.InputRate == 0 {
		cfg.InputRate = DefaultInputRate
	}
	if cfg.InputBurst == 0 {
		cfg.InputBurst = DefaultInputBurst
	}

	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Room access is gated by the room password, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   log.WithPrefix("devserver"),
		shells:   pty.NewManager(cfg.MaxShells),
		attempts: auth.NewAttemptLimiter(auth.AttemptConfig{MaxPerMinute: cfg.JoinAttemptsPerMinute}),
		rooms:    make(map[string]*Room),
		clients:  make(map[*Client]bool),
	}

	if cfg.RoomsDir == "" {
		dir, err := os.MkdirTemp("", "roomsync-rooms-")
		if err != nil {
			return nil, fmt.Errorf("create rooms directory: %w", err)
		}
		s.roomsDir, s.ownsRoomsDir = dir, true
	} else {
		if err := os.MkdirAll(cfg.RoomsDir, 0o755); err != nil {
			return nil, fmt.Errorf("create rooms directory: %w", err)
		}
		s.roomsDir = cfg.RoomsDir
	}
	return s, nil
}

// Handler returns the HTTP handler: the room WebSocket at /ws and a
// health check at /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Start listens on the configured address and serves in the background.
// The listener is created before Start returns, so port conflicts are
// reported immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler()}
	httpServer := s.httpServer
	s.mu.Unlock()

	go func() {
		s.logger.Info("room server listening", "addr", ln.Addr().String(), "rooms", s.roomsDir)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("room server error", "err", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// RoomsDir returns the directory holding room working directories.
func (s *Server) RoomsDir() string {
	return s.roomsDir
}

// Stop closes every connection, stops pollers and shells, and shuts the
// listener down. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	for client := range s.clients {
		client.closeSend()
	}
	s.clients = make(map[*Client]bool)

	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	for _, r := range rooms {
		r.close()
	}
	s.shells.CloseAll()

	var err error
	if httpServer != nil {
		err = httpServer.Close()
	}
	if s.ownsRoomsDir {
		os.RemoveAll(s.roomsDir)
	}
	return err
}

// Room returns the room with the given code, or nil.
func (s *Server) Room(code string) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[strings.ToUpper(code)]
}

// RoomCount returns the number of rooms.
func (s *Server) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// CreateRoom creates a room owned by username and returns it.
func (s *Server) CreateRoom(username, password string) (*Room, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, errors.New("server is stopping")
	}
	code, err := auth.NewRoomCode(func(c string) bool {
		_, taken := s.rooms[c]
		return taken
	})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	r := newRoom(code, filepath.Join(s.roomsDir, code), username, hash)
	// Reserve the code; the room is unusable until seeded below.
	s.rooms[code] = r
	s.mu.Unlock()

	if err := s.prepareRoom(r); err != nil {
		s.mu.Lock()
		delete(s.rooms, code)
		s.mu.Unlock()
		return nil, err
	}

	s.logger.Info("room created", "room", code, "user", username)
	return r, nil
}

func (s *Server) prepareRoom(r *Room) error {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("create room directory: %w", err)
	}
	err := r.seed(protocol.FileMap{
		DefaultFileName: {Type: protocol.KindFile},
	})
	if err != nil {
		return fmt.Errorf("seed room: %w", err)
	}

	if s.cfg.PollInterval > 0 {
		r.poller = NewPoller(PollerConfig{
			Root:     r.Dir,
			Interval: s.cfg.PollInterval,
			OnEvents: func(events []DirEvent) { s.syncFromDisk(r, events) },
			OnError: func(err error) {
				s.logger.Warn("working directory scan", "room", r.Code, "err", err)
			},
		})
		r.poller.Start()
	}
	return nil
}

// syncFromDisk broadcasts changes made in a room's working directory.
func (s *Server) syncFromDisk(r *Room, events []DirEvent) {
	changes := r.applyDirEvents(events)
	for _, f := range changes.synced {
		r.broadcast(protocol.New(protocol.TypeFileSynced, f), nil)
	}
	if changes.changed {
		r.broadcast(protocol.NewFilesUpdateMessage(r.Files()), nil)
	}
	if len(changes.synced) > 0 || changes.changed {
		s.logger.Debug("working directory synced", "room", r.Code, "files", len(changes.synced))
	}
}

// handleWebSocket upgrades a connection and starts its pumps. The first
// frame assigns the connection ID.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		http.Error(w, "server is stopping", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	client := &Client{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, channelBufferSize),
		done:         make(chan struct{}),
		server:       s,
		remoteHost:   host,
		inputLimiter: rate.NewLimiter(s.cfg.InputRate, s.cfg.InputBurst),
		logger:       s.logger,
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	client.sendMessage(protocol.NewConnectedMessage(client.id))
	s.logger.Debug("client connected", "id", client.id, "clients", s.ClientCount())

	go client.writePump()
	go client.readPump()
}

// unregister forgets a disconnected client and takes it out of its room.
func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()

	s.leaveRoom(c)
	s.logger.Debug("client disconnected", "id", c.id, "clients", s.ClientCount())
}
