// Package chattest provides an in-process chat server speaking the client's
// wire contract, for integration tests: it assigns durable ids, echoes sends
// back with their temp id, and routes direct messages between sockets.
package chattest

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/logan496/elearning-chat/internal/models"
	"github.com/logan496/elearning-chat/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is a fake chat backend bound to a local listener.
type Server struct {
	httpSrv *httptest.Server
	nextID  atomic.Int64

	mu           sync.Mutex
	usersByToken map[string]models.User
	conns        map[int64]*clientConn
	silent       bool
}

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *clientConn) write(env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewServer starts the fake backend.
func NewServer() *Server {
	s := &Server{
		usersByToken: make(map[string]models.User),
		conns:        make(map[int64]*clientConn),
	}
	s.nextID.Store(1000)
	s.httpSrv = httptest.NewServer(http.HandlerFunc(s.handleSocket))
	return s
}

// URL returns the base URL clients should connect to.
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// Close shuts the backend down.
func (s *Server) Close() {
	s.mu.Lock()
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.conns = make(map[int64]*clientConn)
	s.mu.Unlock()
	s.httpSrv.Close()
}

// AddUser registers an account and the bearer token that authenticates it.
func (s *Server) AddUser(user models.User, token string) {
	s.mu.Lock()
	s.usersByToken[token] = user
	s.mu.Unlock()
}

// SetSilent makes the server swallow sends instead of echoing them, to
// exercise the client's send-timeout path.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// Inject pushes an arbitrary frame to one user's socket.
func (s *Server) Inject(userID int64, event string, payload interface{}) error {
	s.mu.Lock()
	conn := s.conns[userID]
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("user %d is not connected", userID)
	}
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return conn.write(env)
}

// Disconnect force-closes the user's socket, as a network drop would.
func (s *Server) Disconnect(userID int64) {
	s.mu.Lock()
	conn := s.conns[userID]
	delete(s.conns, userID)
	s.mu.Unlock()
	if conn != nil {
		conn.conn.Close()
	}
}

// Connected reports whether the user has an open socket.
func (s *Server) Connected(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[userID] != nil
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	user, ok := s.usersByToken[token]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("chattest: upgrade failed: %v", err)
		return
	}

	cc := &clientConn{conn: conn}
	s.mu.Lock()
	if old := s.conns[user.ID]; old != nil {
		old.conn.Close()
	}
	s.conns[user.ID] = cc
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.conns[user.ID] == cc {
			delete(s.conns, user.ID)
		}
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			continue
		}
		s.handleFrame(user, env)
	}
}

func (s *Server) handleFrame(sender models.User, env *protocol.Envelope) {
	s.mu.Lock()
	silent := s.silent
	s.mu.Unlock()
	if silent {
		return
	}

	switch env.Event {
	case protocol.EventSendGeneral:
		var send protocol.GeneralSend
		if err := json.Unmarshal(env.Data, &send); err != nil {
			return
		}
		msg := protocol.InboundMessage{
			ID:        s.nextID.Add(1),
			Content:   send.Content,
			CreatedAt: time.Now().UTC(),
			Sender:    &sender,
		}
		s.broadcastGeneral(sender.ID, msg, send.TempID)

	case protocol.EventSendDirect:
		var send protocol.DirectSend
		if err := json.Unmarshal(env.Data, &send); err != nil {
			return
		}
		recipient := s.lookupUser(send.RecipientID)
		msg := protocol.InboundMessage{
			ID:        s.nextID.Add(1),
			Content:   send.Content,
			CreatedAt: time.Now().UTC(),
			Sender:    &sender,
			Recipient: &recipient,
		}

		echo := msg
		echo.TempID = send.TempID
		s.send(sender.ID, protocol.EventDirectSent, echo)
		if recipient.ID != sender.ID {
			s.send(recipient.ID, protocol.EventDirectNew, msg)
		}
	}
}

// broadcastGeneral delivers a general message to every open socket. Only the
// sender's copy carries the temp id.
func (s *Server) broadcastGeneral(senderID int64, msg protocol.InboundMessage, tempID string) {
	s.mu.Lock()
	targets := make(map[int64]*clientConn, len(s.conns))
	for id, c := range s.conns {
		targets[id] = c
	}
	s.mu.Unlock()

	for id, c := range targets {
		out := msg
		if id == senderID {
			out.TempID = tempID
		}
		env, err := protocol.NewEnvelope(protocol.EventGeneralNew, out)
		if err != nil {
			continue
		}
		if err := c.write(env); err != nil {
			log.Printf("chattest: write to %d failed: %v", id, err)
		}
	}
}

func (s *Server) send(userID int64, event string, msg protocol.InboundMessage) {
	s.mu.Lock()
	conn := s.conns[userID]
	s.mu.Unlock()
	if conn == nil {
		return
	}
	env, err := protocol.NewEnvelope(event, msg)
	if err != nil {
		return
	}
	if err := conn.write(env); err != nil {
		log.Printf("chattest: write to %d failed: %v", userID, err)
	}
}

func (s *Server) lookupUser(id int64) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.usersByToken {
		if u.ID == id {
			return u
		}
	}
	return models.User{ID: id, Username: fmt.Sprintf("user-%d", id)}
}
