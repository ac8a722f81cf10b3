package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"trunkgate/internal/engine"
	"trunkgate/internal/event"
	"trunkgate/internal/logging"
	"trunkgate/internal/run"
	"trunkgate/internal/spec"
)

// SignatureHeader carries the HMAC-SHA256 of the webhook body, computed
// with the shared webhook secret.
const SignatureHeader = "X-Trunkgate-Signature"

// Options configure the webhook trigger surface.
type Options struct {
	Addr       string
	Definition spec.Definition
	Engine     *engine.Engine
	Secret     string
	Log        logging.Printer
	Now        func() time.Time
}

// Server accepts push and pull-request events over HTTP and executes
// pipeline runs for them. A newer event for the same pull request or
// branch supersedes the in-flight run, which is canceled; no
// partial-result merging occurs.
type Server struct {
	opts Options

	mu       sync.Mutex
	runs     map[string]*run.Run
	order    []string
	inflight map[string]*inflightRun
	wg       sync.WaitGroup
}

// inflightRun identifies one launched run so a finishing goroutine only
// removes its own entry, never a successor's that reused the key.
type inflightRun struct {
	cancel context.CancelFunc
}

// New creates a server with the supplied options.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logging.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		opts:     opts,
		runs:     make(map[string]*run.Run),
		inflight: make(map[string]*inflightRun),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Post("/events", s.handleEvent)
	r.Get("/runs", s.handleRuns)
	r.Get("/runs/{id}", s.handleRun)
	return r
}

// ListenAndServe runs the HTTP server until ctx is canceled, then shuts
// down gracefully and waits for in-flight runs to wind down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.cancelAll()
		s.wg.Wait()
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.inflight {
		entry.cancel()
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type eventPayload struct {
	Kind    string `json:"kind"`
	Branch  string `json:"branch"`
	HeadSHA string `json:"head_sha"`
	Number  int    `json:"number"`
	Author  string `json:"author"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if s.opts.Secret != "" {
		if !verifySignature(body, r.Header.Get(SignatureHeader), s.opts.Secret) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	ev := event.Event{
		Kind:       event.Kind(payload.Kind),
		Branch:     payload.Branch,
		HeadSHA:    payload.HeadSHA,
		Number:     payload.Number,
		Author:     payload.Author,
		ReceivedAt: s.opts.Now(),
	}
	if err := ev.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !event.Matches(s.opts.Definition.Trigger, ev) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	s.start(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"key":    ev.Key(),
	})
}

// start launches a run for the event, superseding any in-flight run with
// the same key.
func (s *Server) start(ev event.Event) {
	s.mu.Lock()
	if prev, ok := s.inflight[ev.Key()]; ok {
		s.opts.Log.Printf("superseding in-flight run for %s", ev.Key())
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	entry := &inflightRun{cancel: cancel}
	s.inflight[ev.Key()] = entry
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		result, err := s.opts.Engine.Execute(ctx, s.opts.Definition, ev)

		s.mu.Lock()
		// The key may already belong to a successor run; only this
		// run's own entry is removed.
		if s.inflight[ev.Key()] == entry {
			delete(s.inflight, ev.Key())
		}
		if result != nil {
			s.runs[result.ID] = result
			s.order = append(s.order, result.ID)
		}
		s.mu.Unlock()

		if err != nil {
			s.opts.Log.Printf("run for %s failed to execute: %v", ev.Key(), err)
		}
	}()
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]*run.Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.order[i]])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	result, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Runs returns completed runs, newest first.
func (s *Server) Runs() []*run.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*run.Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.order[i]])
	}
	return out
}

// Wait blocks until all in-flight runs complete. Intended for tests.
func (s *Server) Wait() {
	s.wg.Wait()
}

func verifySignature(body []byte, header, secret string) bool {
	header = strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// Sign computes the signature header value for a webhook body. Exposed
// for clients and tests.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
