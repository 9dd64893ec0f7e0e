// Package devserver is a local implementation of the form server contract:
// the form directory, the submission sink and the submission lookup. It
// backs `formsync serve` and the end-to-end tests.
//
// The server can be switched offline, in which case every contract endpoint
// answers 503 and connected /connectivity clients are told the server is
// unreachable.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aidanlsb/formsync/internal/connectivity"
	"github.com/aidanlsb/formsync/internal/schema"
)

// Options configures a Server.
type Options struct {
	// DBPath is the SQLite database file. Empty keeps everything in memory.
	DBPath string

	// Token, when set, is required as a bearer token on contract endpoints.
	Token string

	Debug bool
}

// Server is the reference form server.
type Server struct {
	db     *db
	token  string
	debug  bool
	online atomic.Bool
	router chi.Router

	mu       sync.Mutex
	watchers map[int]chan connectivity.StatusMessage
	nextID   int
}

// New opens the server database and builds the router. The server starts
// online.
func New(opts Options) (*Server, error) {
	d, err := openDB(opts.DBPath)
	if err != nil {
		return nil, err
	}
	s := &Server{
		db:       d,
		token:    opts.Token,
		debug:    opts.Debug,
		watchers: make(map[int]chan connectivity.StatusMessage),
	}
	s.online.Store(true)
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close closes the database and disconnects connectivity watchers.
func (s *Server) Close() error {
	s.mu.Lock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()
	return s.db.close()
}

// PutForm adds or replaces a form.
func (s *Server) PutForm(ctx context.Context, form *schema.Form) error {
	return s.db.putForm(ctx, form)
}

// Seed loads every form of a schema directory.
func (s *Server) Seed(ctx context.Context, forms *schema.FileStore) (int, error) {
	list, err := forms.List()
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read forms: %w", err)
	}
	for _, form := range list {
		if err := s.db.putForm(ctx, form); err != nil {
			return 0, err
		}
	}
	s.logDebug("seeded %d forms from %s", len(list), forms.Dir())
	return len(list), nil
}

// Submissions returns the number of stored submissions.
func (s *Server) Submissions(ctx context.Context) (int, error) {
	return s.db.countSubmissions(ctx)
}

// Online reports whether contract endpoints are serving.
func (s *Server) Online() bool { return s.online.Load() }

// SetOnline switches the server on or offline and notifies watchers.
func (s *Server) SetOnline(online bool) {
	if s.online.Swap(online) == online {
		return
	}
	s.logDebug("online=%v", online)

	msg := connectivity.StatusMessage{Online: online, At: time.Now().UTC()}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		// Watchers only need the latest state.
		select {
		case <-ch:
		default:
		}
		ch <- msg
	}
}

func (s *Server) watch() (id int, ch <-chan connectivity.StatusMessage, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = s.nextID
	s.nextID++
	c := make(chan connectivity.StatusMessage, 1)
	s.watchers[id] = c
	return id, c, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			close(w)
			delete(s.watchers, id)
		}
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/connectivity", s.handleConnectivity)

	r.Group(func(r chi.Router) {
		r.Use(s.requireOnline, s.requireToken)

		r.Get("/forms/{formID}", s.handleGetForm)
		r.Get("/fields/{formID}", s.handleGetFields)

		r.Post("/submissions", s.handleSubmit)
		r.Get("/submissions/{formID}", s.handleListSubmissions)
		r.Get("/submissions/get/{recordID}", s.handleGetRecord)
		r.Get("/submissions/{formName}/pkvalue", s.handleListKeys)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logDebug("listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logDebug(format string, args ...interface{}) {
	if s.debug {
		fmt.Fprintf(os.Stderr, "[formsync-devserver] "+format+"\n", args...)
	}
}
