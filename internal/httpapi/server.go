package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"beaconraffle/internal/raffle"
	"beaconraffle/internal/types"
)

// Source gives read access to committed raffle state.
type Source interface {
	View(fn func(r *raffle.Raffle) error) error
}

type Server struct {
	router chi.Router
	src    Source
	logger log.Logger
}

func New(src Source, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{
		router: chi.NewRouter(),
		src:    src,
		logger: logger.With("module", "httpapi"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/raffle", s.handleStatus)
	s.router.Get("/raffle/winners", s.handleWinners)
	s.router.Get("/raffle/winner-ids", s.handleWinnerIDs)
	s.router.Get("/raffle/holders", s.handleHolders)
	s.router.Get("/beacon/requests/{id}", s.handleRequest)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var status raffle.Status
	_ = s.src.View(func(r *raffle.Raffle) error {
		status = r.Status()
		return nil
	})
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWinners(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, func(r *raffle.Raffle) (any, error) { return r.Winners() })
}

func (s *Server) handleWinnerIDs(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, func(r *raffle.Raffle) (any, error) { return r.WinnerIDs() })
}

func (s *Server) handleHolders(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, func(r *raffle.Raffle) (any, error) { return r.WinnerHolders() })
}

func (s *Server) handleRequest(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		writeError(w, types.ErrInvalidRequest.Wrap("invalid request id"))
		return
	}
	s.respond(w, func(r *raffle.Raffle) (any, error) {
		rec, ok := r.Exchange().Record(id)
		if !ok {
			return nil, types.ErrItemNotFound.Wrapf("request %d", id)
		}
		return rec, nil
	})
}

func (s *Server) respond(w http.ResponseWriter, fn func(r *raffle.Raffle) (any, error)) {
	var out any
	err := s.src.View(func(r *raffle.Raffle) error {
		var err error
		out, err = fn(r)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type errorBody struct {
	Error     string `json:"error"`
	Codespace string `json:"codespace,omitempty"`
	Code      uint32 `json:"code,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotYetExecuted):
		return http.StatusConflict
	case errors.Is(err, types.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), Codespace: codespace, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
