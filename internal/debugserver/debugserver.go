// Package debugserver exposes a running Rt's stack over a WebSocket so a
// host tool can watch execution live, broadcasting one JSON event per
// step to every connected client.
package debugserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/h6lang/h6/internal/bytecode"
	"github.com/h6lang/h6/internal/vm"
)

// Event is one broadcast message: either an executed op or a syscall,
// plus a snapshot of the stack immediately afterward.
type Event struct {
	Type       string   `json:"type"` // "op" or "syscall"
	RunID      string   `json:"run_id"`
	Kind       string   `json:"kind,omitempty"`
	Arg        int32    `json:"arg,omitempty"`
	SyscallID  uint32   `json:"syscall_id,omitempty"`
	BuildDepth int      `json:"build_depth"`
	Stack      []string `json:"stack"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is a broadcast hub: every attached client receives every event,
// mirroring the mutex-guarded client-set pattern used for this codebase's
// other fan-out connections.
type Server struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

// New returns an empty hub with no clients yet attached.
func New() *Server {
	return &Server{clients: make(map[*websocket.Conn]bool)}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection as a broadcast recipient until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("debugserver: upgrade failed: %v", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// The client never sends anything meaningful; read until it closes
	// so we notice the disconnect promptly.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.clients {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
}

func stackSnapshot(rt *vm.Rt) []string {
	out := make([]string, rt.Stack.Len())
	for i := 0; i < rt.Stack.Len(); i++ {
		var sb strings.Builder
		vm.PrintValue(&sb, rt.Stack.At(i))
		out[i] = sb.String()
	}
	return out
}

// TraceOp implements vm.Tracer, broadcasting every executed op.
func (s *Server) TraceOp(rt *vm.Rt, op bytecode.Op, depth int) {
	s.broadcast(Event{
		Type:       "op",
		RunID:      rt.ID.String(),
		Kind:       op.Kind.String(),
		Arg:        op.Arg,
		BuildDepth: depth,
		Stack:      stackSnapshot(rt),
	})
}

// TraceSyscall implements vm.Tracer, broadcasting every System opcode.
func (s *Server) TraceSyscall(rt *vm.Rt, id uint32) {
	s.broadcast(Event{
		Type:      "syscall",
		RunID:     rt.ID.String(),
		SyscallID: id,
		Stack:     stackSnapshot(rt),
	})
}
