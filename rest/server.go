package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/actionrouter/cache"
	"github.com/mohitkumar/actionrouter/compound"
	"github.com/mohitkumar/actionrouter/container"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/modal"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/ranking"
	"github.com/mohitkumar/actionrouter/session"
	"github.com/mohitkumar/actionrouter/stats"
	"github.com/mohitkumar/actionrouter/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port          int
	ranking       *ranking.Service
	recorder      *stats.Recorder
	registryCache *cache.RegistryCache
	resolver      *modal.Resolver
	orchestrator  *compound.Orchestrator
	sessions      *session.Registry
	eventEncDec   *util.JsonEncDec[model.ExecutionEvent]
}

func NewServer(httpPort int, c *container.DIContiner, gatherer prometheus.Gatherer) (*Server, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		Port:          httpPort,
		ranking:       c.GetRankingService(),
		recorder:      c.GetRecorder(),
		registryCache: c.GetRegistryCache(),
		resolver:      c.GetResolver(),
		orchestrator:  c.GetOrchestrator(),
		sessions:      c.GetSessions(),
		eventEncDec:   util.NewJsonEncoderDecoder[model.ExecutionEvent](),
	}

	router := mux.NewRouter()
	router.HandleFunc("/ranking/query", s.HandleRankingQuery).Methods(http.MethodPost)
	router.HandleFunc("/suggestions", s.HandleSuggestions).Methods(http.MethodPost)
	router.HandleFunc("/events/execution", s.HandleExecutionEvent).Methods(http.MethodPost)

	router.HandleFunc("/cache", s.HandleClearCache).Methods(http.MethodDelete)
	router.HandleFunc("/cache/users/{userId}", s.HandleInvalidateUser).Methods(http.MethodDelete)
	router.HandleFunc("/cache/stats", s.HandleCacheStats).Methods(http.MethodGet)

	router.HandleFunc("/modals", s.HandleOpenModal).Methods(http.MethodPost)
	router.HandleFunc("/modals/{id}", s.HandleGetModal).Methods(http.MethodGet)
	router.HandleFunc("/modals/{id}/form", s.HandleUpdateForm).Methods(http.MethodPut)
	router.HandleFunc("/modals/{id}/submit", s.HandleSubmitModal).Methods(http.MethodPost)
	router.HandleFunc("/modals/{id}/buttons/{role}", s.HandlePressButton).Methods(http.MethodPost)
	router.HandleFunc("/modals/{id}/confirm", s.HandleConfirmModal).Methods(http.MethodPost)
	router.HandleFunc("/modals/{id}/cancel", s.HandleCancelModal).Methods(http.MethodPost)

	router.HandleFunc("/flows", s.HandleStartFlow).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/flows/{id}/complete", s.HandleCompleteStep).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/confirm", s.HandleConfirmStep).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/skip", s.HandleSkipStep).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/abort", s.HandleAbortFlow).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("http request", zap.String("method", r.Method), zap.String("uri", r.RequestURI))
		next.ServeHTTP(w, r)
	})
}

func statusOf(code model.ErrorCode) int {
	switch code {
	case model.NOT_FOUND:
		return http.StatusNotFound
	case model.PERMISSION_DENIED:
		return http.StatusForbidden
	case model.MISSING_CONTEXT, model.VALIDATION_FAILED:
		return http.StatusUnprocessableEntity
	case model.FEATURE_DISABLED, model.NO_PRESENTATION, model.STEP_UNAVAILABLE, model.INVALID_TRANSITION:
		return http.StatusConflict
	case model.SERVICE_CALL_FAILED:
		return http.StatusBadGateway
	case model.RANKING_UNAVAILABLE:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail any    `json:"detail,omitempty"`
}

// respondWithActionError maps err to a status. detail carries the state the
// operation left behind, e.g. the modal snapshot with inline field errors.
func respondWithActionError(w http.ResponseWriter, err error, detail any) {
	code, ok := model.CodeOf(err)
	status := http.StatusInternalServerError
	if ok {
		status = statusOf(code)
	} else if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, util.ErrWorkerStopped) {
		status = http.StatusServiceUnavailable
	}
	respondWithJSON(w, status, errorBody{Error: err.Error(), Code: string(code), Detail: detail})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload any) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// decode reads an optional JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
