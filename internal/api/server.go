// Package api exposes the send, tracking, webhook, and identity endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/sendrelay/internal/config"
	"github.com/ignite/sendrelay/internal/counters"
	"github.com/ignite/sendrelay/internal/crypto"
	"github.com/ignite/sendrelay/internal/ingest"
	"github.com/ignite/sendrelay/internal/lifecycle"
	"github.com/ignite/sendrelay/internal/orchestrator"
	"github.com/ignite/sendrelay/internal/pkg/logger"
	"github.com/ignite/sendrelay/internal/provider"
	"github.com/ignite/sendrelay/internal/store"
)

// ProviderClient is the per-tenant provider capability the handlers use.
// Satisfied by *provider.SES; faked in tests.
type ProviderClient interface {
	SendMessage(ctx context.Context, msg provider.Message) (string, error)
	ValidateSenderIdentity(ctx context.Context, address string) error
	GetQuota(ctx context.Context) (*provider.Quota, error)
	VerifyDomain(ctx context.Context, dom string) ([]string, error)
	DKIMTokens(ctx context.Context, dom string) ([]string, error)
}

// AdapterFactory builds a provider client bound to one tenant's decrypted
// credentials. Fails with provider.ErrCredentialsMissing or
// ErrCredentialsInvalid when the tenant has none or decryption fails.
type AdapterFactory func(ctx context.Context, tenantID string) (ProviderClient, error)

// Server wires the HTTP surface.
type Server struct {
	cfg        config.ServerConfig
	store      *store.Store
	orch       *orchestrator.Orchestrator
	machine    *lifecycle.Machine
	gateway    *ingest.Gateway
	counters   *counters.Counters
	newAdapter AdapterFactory
	cipher     *crypto.Cipher
	log        *logger.Logger
	router     *chi.Mux
	server     *http.Server
}

// sealCredentials encrypts a credential blob for storage.
func (s *Server) sealCredentials(plaintext string) (string, error) {
	return s.cipher.Encrypt(plaintext)
}

// Deps carries everything the server needs; assembled in cmd/server.
type Deps struct {
	Config     config.ServerConfig
	Store      *store.Store
	Orch       *orchestrator.Orchestrator
	Machine    *lifecycle.Machine
	Gateway    *ingest.Gateway
	Counters   *counters.Counters
	NewAdapter AdapterFactory
	Cipher     *crypto.Cipher
	Log        *logger.Logger
}

// NewServer creates the server and mounts all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:        deps.Config,
		store:      deps.Store,
		orch:       deps.Orch,
		machine:    deps.Machine,
		gateway:    deps.Gateway,
		counters:   deps.Counters,
		newAdapter: deps.NewAdapter,
		cipher:     deps.Cipher,
		log:        deps.Log,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	// Public tracking surface: no auth is possible, recipients' mail
	// clients are the callers.
	r.Get("/t/open/{token}", s.handleTrackOpen)
	r.Get("/t/click/{sendID}", s.handleTrackClick)

	// Public webhook surface: the provider is the caller.
	r.Post("/webhooks/provider", s.gateway.HandleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send-one", s.handleSendOne)
		r.Post("/send-bulk", s.handleSendBulk)
		r.Get("/sends/{id}", s.handleGetSend)
		r.Get("/quota", s.handleGetQuota)
		r.Get("/stats", s.handleStats)
		r.Get("/reputation/domains", s.handleDomainReputation)
		r.Get("/identity/dns/{domain}", s.handleIdentityDNS)
		r.Post("/identity/verify", s.handleIdentityVerify)
		r.Post("/credentials", s.handleUpsertCredentials)
	})

	return r
}

// Handler returns the HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute, // bulk sends block the request
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","time":%q}`, time.Now().UTC().Format(time.RFC3339))
}

// tenantID resolves the calling tenant. Single-tenant deployments omit the
// header and land on "default".
func tenantID(r *http.Request) string {
	if id := r.Header.Get("X-Tenant-ID"); id != "" {
		return id
	}
	return "default"
}

// SESAdapterFactory is the production AdapterFactory: fetch the tenant's
// encrypted credential blob, decrypt, and build an SES client.
func SESAdapterFactory(st *store.Store, cipher *crypto.Cipher, log *logger.Logger) AdapterFactory {
	return func(ctx context.Context, tenant string) (ProviderClient, error) {
		encrypted, err := st.GetProviderCredentials(ctx, tenant)
		if err != nil {
			return nil, err
		}
		if encrypted == "" {
			return nil, provider.ErrCredentialsMissing
		}

		plaintext, err := cipher.Decrypt(encrypted)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrCredentialsInvalid, err)
		}

		var creds provider.Credentials
		if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrCredentialsInvalid, err)
		}

		return provider.New(ctx, creds, log)
	}
}
