package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"lex-rag/internal/apperr"
	"lex-rag/internal/models"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Answerer produces an answer for a question.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Handler returns the HTTP API: POST /query and GET /health, wrapped with
// request logging and permissive CORS.
func Handler(svc Answerer, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", queryHandler(svc))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	c := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodHead, http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	var h http.Handler = mux
	h = c.Handler(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	})(h)
	h = hlog.RequestIDHandler("request_id", "X-Request-Id")(h)
	h = hlog.NewHandler(logger)(h)
	return h
}

func queryHandler(svc Answerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)

		var body struct {
			Question json.RawMessage `json:"question"`
		}
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&body); err != nil {
			logger.Warn().Err(err).Msg("Malformed request body")
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: models.GenericRequestError})
			return
		}

		var question string
		if len(body.Question) == 0 || json.Unmarshal(body.Question, &question) != nil || strings.TrimSpace(question) == "" {
			logger.Warn().Msg("Request without a question")
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: models.GenericRequestError})
			return
		}

		answer, err := svc.Answer(r.Context(), question)
		if err != nil {
			kind := apperr.KindOf(err)
			if kind == apperr.KindInput {
				logger.Warn().Err(err).Msg("Rejected query")
				writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: models.GenericRequestError})
				return
			}
			logger.Error().Err(err).Stringer("kind", kind).Msg("Failed to process query")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: models.GenericQueryError})
			return
		}

		writeJSON(w, http.StatusOK, models.QueryResponse{Question: question, Response: answer})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

// Run serves h on addr until ctx is cancelled, then drains in-flight
// requests.
func Run(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
