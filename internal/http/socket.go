package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"apnastudent/portal/internal/search"
)

const (
	socketWriteWait = 10 * time.Second
	socketSendBuf   = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The portal serves its own pages; cross-origin sockets are rejected by
	// the default origin check.
}

// clientEvent is one UI event from the browser page driving the search box.
type clientEvent struct {
	Type          string         `json:"type"`
	Query         string         `json:"query,omitempty"`
	Result        *search.Result `json:"result,omitempty"`
	Rect          *search.Rect   `json:"rect,omitempty"`
	ScrollX       float64        `json:"scrollX,omitempty"`
	ScrollY       float64        `json:"scrollY,omitempty"`
	InsideAnchor  bool           `json:"insideAnchor,omitempty"`
	InsideOverlay bool           `json:"insideOverlay,omitempty"`
}

// serverEvent is one rendering instruction pushed back to the page.
type serverEvent struct {
	Type     string           `json:"type"`
	Position *search.Position `json:"position,omitempty"`
	Results  []search.Result  `json:"results,omitempty"`
	Path     string           `json:"path,omitempty"`
}

// searchSocket renders one controller's View callbacks onto a websocket. All
// callbacks funnel through the buffered send channel so they never block the
// controller; writeLoop is the only goroutine touching the connection for
// writes.
type searchSocket struct {
	conn *websocket.Conn
	send chan serverEvent
	done chan struct{}
}

func newSearchSocket(conn *websocket.Conn) *searchSocket {
	return &searchSocket{
		conn: conn,
		send: make(chan serverEvent, socketSendBuf),
		done: make(chan struct{}),
	}
}

func (s *searchSocket) emit(ev serverEvent) {
	select {
	case s.send <- ev:
	case <-s.done:
	}
}

func (s *searchSocket) ShowOverlay(pos search.Position, results []search.Result) {
	if results == nil {
		results = []search.Result{}
	}
	s.emit(serverEvent{Type: "overlay", Position: &pos, Results: results})
}

func (s *searchSocket) ShowNoResults(pos search.Position) {
	s.emit(serverEvent{Type: "no_results", Position: &pos})
}

func (s *searchSocket) MoveOverlay(pos search.Position) {
	s.emit(serverEvent{Type: "move", Position: &pos})
}

func (s *searchSocket) HideOverlay() {
	s.emit(serverEvent{Type: "hide"})
}

func (s *searchSocket) Navigate(path string) {
	s.emit(serverEvent{Type: "navigate", Path: path})
}

func (s *searchSocket) ClearQuery() {
	s.emit(serverEvent{Type: "clear_query"})
}

// Bind and Unbind tell the page to attach or detach its document-level
// pointer-down listener, so the listener exists only while the overlay is
// open.
func (s *searchSocket) Bind() {
	s.emit(serverEvent{Type: "watch_pointer"})
}

func (s *searchSocket) Unbind() {
	s.emit(serverEvent{Type: "unwatch_pointer"})
}

func (s *searchSocket) writeLoop() {
	defer s.conn.Close()
	for {
		select {
		case ev := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Server) handleSearchSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("search socket upgrade: %v", err)
		return
	}

	variant := search.VariantFull
	if r.URL.Query().Get("variant") == string(search.VariantCompact) {
		variant = search.VariantCompact
	}

	sock := newSearchSocket(conn)
	ctrl := search.NewController(searcherFunc(s.searchResults), sock, search.Options{
		Debounce:       s.cfg.SearchDebounce,
		MinQueryLen:    s.cfg.SearchMinQueryLen,
		RequestTimeout: s.cfg.RequestTimeout,
		Variant:        variant,
		Binder:         sock,
	})

	go sock.writeLoop()
	defer func() {
		ctrl.Close()
		close(sock.done)
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev clientEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("search socket: bad event: %v", err)
			continue
		}
		switch ev.Type {
		case "input":
			ctrl.Input(ev.Query)
		case "submit":
			ctrl.Submit()
		case "focus":
			ctrl.Focus()
		case "select":
			if ev.Result != nil {
				ctrl.Select(*ev.Result)
			}
		case "pointer_down":
			ctrl.PointerDown(ev.InsideAnchor, ev.InsideOverlay)
		case "anchor":
			if ev.Rect != nil {
				ctrl.SetAnchor(*ev.Rect, ev.ScrollX, ev.ScrollY)
			}
		case "dismiss":
			ctrl.Dismiss()
		}
	}
}

type searcherFunc func(ctx context.Context, name string) ([]search.Result, error)

func (f searcherFunc) SearchUsers(ctx context.Context, name string) ([]search.Result, error) {
	return f(ctx, name)
}

func (s *Server) searchResults(ctx context.Context, name string) ([]search.Result, error) {
	found, err := s.backend.SearchUsers(ctx, name)
	if err != nil {
		return nil, err
	}
	results := make([]search.Result, 0, len(found))
	for _, u := range found {
		results = append(results, search.Result{ID: u.ID, Name: u.Name, Username: u.Username})
	}
	return results, nil
}
