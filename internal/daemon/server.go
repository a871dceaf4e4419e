package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Server exposes the registry over WebSocket at /ws plus a health
// endpoint at /healthz.
type Server struct {
	registry *Registry
	log      *slog.Logger
}

// NewServer wraps a registry.
func NewServer(reg *Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{registry: reg, log: log}
}

// Handler returns the daemon's HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"repos":  s.registry.Names(),
		})
	})
	return mux
}

// ListenAndServe blocks serving the daemon until the context ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("daemon listening", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// session is one WebSocket connection: a read loop on the request
// goroutine, a writer goroutine owning the connection's write side, and
// one pump goroutine per subscribed repo.
type session struct {
	server  *Server
	conn    *websocket.Conn
	writeCh chan Outbound
	cancels map[string]func()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	sess := &session{
		server:  s,
		conn:    conn,
		writeCh: make(chan Outbound, 32),
		cancels: make(map[string]func()),
	}
	defer func() {
		for _, c := range sess.cancels {
			c()
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case out := <-sess.writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var in Inbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		sess.handle(ctx, in)
	}
}

// push enqueues an outbound message, dropping the oldest queued message
// instead of blocking the read loop when the client falls behind.
func (sess *session) push(out Outbound) {
	select {
	case sess.writeCh <- out:
		return
	default:
	}
	select {
	case <-sess.writeCh:
	default:
	}
	select {
	case sess.writeCh <- out:
	default:
	}
}

func (sess *session) handle(ctx context.Context, in Inbound) {
	switch in.Type {
	case MsgPing:
		sess.push(Outbound{Type: MsgPong})

	case MsgSubscribe:
		repo, ok := sess.server.registry.Get(in.Repo)
		if !ok {
			sess.push(errorMsg(in.ID, CodeNotFound, "unknown repo: "+in.Repo))
			return
		}
		if _, already := sess.cancels[in.Repo]; already {
			sess.push(errorMsg(in.ID, CodeInvalidArgument, "already subscribed: "+in.Repo))
			return
		}
		updates, cancelSub := repo.Subscribe()
		sess.cancels[in.Repo] = cancelSub
		sess.push(Outbound{
			Type:    MsgSubscribed,
			Repo:    in.Repo,
			Version: repo.Engine().Version(),
			Status:  repo.Status(),
		})
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-updates:
					if !ok {
						return
					}
					sess.push(Outbound{
						Type:         MsgIndexUpdated,
						Repo:         u.Repo,
						Version:      u.Version,
						ChangedFiles: u.ChangedFiles,
					})
				}
			}
		}()

	case MsgUnsubscribe:
		cancelSub, ok := sess.cancels[in.Repo]
		if !ok {
			sess.push(errorMsg(in.ID, CodeInvalidArgument, "not subscribed: "+in.Repo))
			return
		}
		cancelSub()
		delete(sess.cancels, in.Repo)
		sess.push(Outbound{Type: MsgUnsubscribed, Repo: in.Repo})

	case MsgQuery:
		repo, ok := sess.server.registry.Get(in.Repo)
		if !ok {
			sess.push(errorMsg(in.ID, CodeNotFound, "unknown repo: "+in.Repo))
			return
		}
		result, err := dispatch(ctx, repo, in.Method, in.Params)
		if err != nil {
			var de *dispatchError
			if errors.As(err, &de) {
				sess.push(errorMsg(in.ID, de.code, de.msg))
				return
			}
			sess.push(errorMsg(in.ID, CodeInternal, err.Error()))
			return
		}
		sess.push(Outbound{
			Type:    MsgResponse,
			Repo:    in.Repo,
			ID:      in.ID,
			Version: repo.Engine().Version(),
			Result:  result,
		})

	default:
		sess.push(errorMsg(in.ID, CodeInvalidArgument, "unsupported type: "+in.Type))
	}
}
