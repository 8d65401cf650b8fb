// Package wstest runs a scripted voxel game server over websockets for
// client tests. It performs the HELLO/WELCOME/CATALOG handshake, streams OBS
// frames at a fixed cadence and applies ACT requests to a small in-memory
// world, reporting results through OBS events.
package wstest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelswarm.ai/internal/protocol"
)

type Options struct {
	// TickInterval is the OBS cadence. Defaults to 10ms.
	TickInterval time.Duration
	// Palette lists block ids; index 0 must be AIR.
	Palette []string
	// Radius is the half-size of the observed voxel cube around the origin.
	Radius int
	Logger *slog.Logger
}

type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	grid     protocol.VoxelGrid
	entities map[string]protocol.EntityObs
	conns    map[string]*Conn
	fail     map[string]string
	seq      int

	http *httptest.Server
}

func NewServer(opts Options) *Server {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Millisecond
	}
	if len(opts.Palette) == 0 {
		opts.Palette = []string{"AIR", "STONE", "DIRT", "LOG", "IRON_ORE", "PLANK", "COBBLESTONE"}
	}
	if opts.Radius <= 0 {
		opts.Radius = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "wstest"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		grid:     protocol.NewVoxelGrid([3]int{0, 0, 0}, opts.Radius, 0),
		entities: make(map[string]protocol.EntityObs),
		conns:    make(map[string]*Conn),
		fail:     make(map[string]string),
	}
}

// Start serves on a loopback port and returns the websocket URL.
func (s *Server) Start() string {
	s.http = httptest.NewServer(s.Handler())
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	if s.http != nil {
		s.http.Close()
	}
}

func (s *Server) paletteID(block string) (uint16, bool) {
	for i, b := range s.opts.Palette {
		if b == block {
			return uint16(i), true
		}
	}
	return 0, false
}

// SetBlock writes block at pos. Positions outside the cube are ignored.
func (s *Server) SetBlock(pos [3]int, block string) {
	id, ok := s.paletteID(block)
	if !ok {
		panic(fmt.Sprintf("wstest: block %q not in palette", block))
	}
	s.mu.Lock()
	s.grid.Set(pos, id)
	s.mu.Unlock()
}

func (s *Server) Block(pos [3]int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.grid.At(pos)
	if !ok || int(id) >= len(s.opts.Palette) {
		return ""
	}
	return s.opts.Palette[id]
}

// PutEntity adds a non-agent entity to every observation.
func (s *Server) PutEntity(e protocol.EntityObs) {
	s.mu.Lock()
	s.entities[e.ID] = e
	s.mu.Unlock()
}

// Fail makes every later request of reqType fail with code.
func (s *Server) Fail(reqType, code string) {
	s.mu.Lock()
	s.fail[reqType] = code
	s.mu.Unlock()
}

// Conn returns the live connection of agent name, or nil.
func (s *Server) Conn(name string) *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[name]
}

// Names returns the connected agent names, sorted.
func (s *Server) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for n := range s.conns {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		c := s.handshake(ws)
		if c == nil {
			return
		}
		defer s.leave(c)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go c.writeLoop(ctx, cancel)
		go c.obsLoop(ctx)

		for {
			_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				continue
			}
			c.apply(act)
		}
	}
}

func (s *Server) handshake(ws *websocket.Conn) *Conn {
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if !protocol.IsSupportedVersion(hello.ProtocolVersion) {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.AgentName == "" {
		hello.AgentName = "agent"
	}

	s.mu.Lock()
	s.seq++
	c := &Conn{
		srv:     s,
		Name:    hello.AgentName,
		AgentID: fmt.Sprintf("A%d", s.seq),
		ws:      ws,
		out:     make(chan []byte, 64),
		done:    make(chan struct{}),
		hp:      20,
		hunger:  20,
		inv:     map[string]int{},
	}
	if old := s.conns[c.Name]; old != nil {
		go old.close()
	}
	s.conns[c.Name] = c
	s.mu.Unlock()

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         c.AgentID,
		ResumeToken:     "resume_" + c.AgentID,
		WorldParams:     protocol.WorldParams{TickRateHz: int(time.Second / s.opts.TickInterval), Height: 64, ObsRadius: s.opts.Radius},
	}
	if err := writeJSON(ws, welcome); err != nil {
		return nil
	}
	palette, _ := json.Marshal(s.opts.Palette)
	cat := protocol.CatalogMsg{
		Type:            protocol.TypeCatalog,
		ProtocolVersion: protocol.Version,
		Name:            protocol.CatalogBlockPalette,
		Digest:          fmt.Sprintf("palette-%d", len(s.opts.Palette)),
		Part:            1,
		TotalParts:      1,
		Data:            json.RawMessage(palette),
	}
	if err := writeJSON(ws, cat); err != nil {
		return nil
	}
	return c
}

func (s *Server) leave(c *Conn) {
	s.mu.Lock()
	if s.conns[c.Name] == c {
		delete(s.conns, c.Name)
	}
	s.mu.Unlock()
	c.close()
}

func writeJSON(ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, b)
}
