package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"google.golang.org/api/option"

	"mindful-chat-backend/internal/config"
	"mindful-chat-backend/internal/dialogflow"
	"mindful-chat-backend/internal/gemini"
	"mindful-chat-backend/internal/relay"
	"mindful-chat-backend/internal/types"
)

const banner = "Welcome to the Gemini AI Mental Health Chatbot!"

// Upper bound on a /chat request body; larger bodies read as no message.
const maxChatBody = 1 << 20

type Server struct {
	router *chi.Mux
	cfg    config.Config
	relay  *relay.Aggregator
	// nil when built with newServer
	dialogflow *dialogflow.Client
}

// NewServer wires the upstream clients from cfg. dfOpts are handed to the
// Dialogflow sessions client after the configured endpoint.
func NewServer(cfg config.Config, dfOpts ...option.ClientOption) (*Server, error) {
	policy, err := relay.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load failure policy: %w", err)
	}
	var opts []option.ClientOption
	if cfg.DialogflowEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.DialogflowEndpoint))
	}
	opts = append(opts, dfOpts...)
	df := dialogflow.New(context.Background(), cfg.DialogflowProjectID, cfg.CredentialsFile, cfg.UpstreamTimeout, opts...)
	gc := gemini.NewClient(cfg.GeminiNLUURL, cfg.GeminiEmpathyURL, cfg.GeminiAPIKey, cfg.UpstreamTimeout)
	agg := relay.New(df, gc, gc, relay.Options{Policy: policy})

	s := newServer(cfg, agg)
	s.dialogflow = df
	return s, nil
}

// Close releases the Dialogflow connection.
func (s *Server) Close() error {
	if s.dialogflow == nil {
		return nil
	}
	return s.dialogflow.Close()
}

func newServer(cfg config.Config, agg *relay.Aggregator) *Server {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	s := &Server{router: r, cfg: cfg, relay: agg}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/", s.handleIndex)
	s.router.Post("/chat", s.handleChat)
	s.router.Get("/quote_test", s.handleQuoteTest)
	s.router.Get("/api/health", s.handleHealth)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(banner))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// malformed, oversized and non-string messages count as missing
		req = types.ChatRequest{}
	}

	resp, err := s.relay.HandleChat(r.Context(), req)
	if err != nil {
		var ve *relay.ValidationError
		var se *relay.StepError
		switch {
		case errors.As(err, &ve):
			s.writeError(w, http.StatusBadRequest, ve.Message)
		case errors.As(err, &se):
			log.Printf("[chat] %s request_id=%s: %v", se.Step, GetRequestID(r.Context()), se.Err)
			s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s request failed", se.Step))
		default:
			log.Printf("[chat] request_id=%s: %v", GetRequestID(r.Context()), err)
			s.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleQuoteTest(w http.ResponseWriter, r *http.Request) {
	const rawURL = "https://example.com/some path"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Encoded URL: " + Quote(rawURL)))
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}
