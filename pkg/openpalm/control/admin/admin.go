// Package admin implements the thin control-plane REST surface: channel
// install/uninstall, automation inspection and manual runs,
// artifact/audit inspection, and first-boot token setup. Every mutation is
// audited whether it succeeds or fails.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/itlackey/openpalm/pkg/openpalm/control/automation"
	"github.com/itlackey/openpalm/pkg/openpalm/control/channelmgr"
	"github.com/itlackey/openpalm/pkg/openpalm/control/runtime"
	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
)

// TokenStore holds the admin token. SetToken is called by the setup
// endpoint on every successful setup call; once Token() is non-empty,
// auth is enforced.
type TokenStore interface {
	Token() string
	SetToken(token string) error
}

// Auditor records every admin mutation, success or failure.
type Auditor interface {
	Record(event map[string]any)
}

// SpecReader exposes the current stack spec for read-only endpoints.
type SpecReader interface {
	Load() (spec.StackSpec, error)
}

// ArtifactsReader resolves rendered artifacts for GET /artifacts/*.
type ArtifactsReader interface {
	Manifest() ([]byte, error)
	Artifact(name string) ([]byte, error)
}

// SyncHook is invoked after a successful mutation. Its error is captured in the audit record but never
// propagated to the HTTP caller.
type SyncHook func(ctx context.Context, message string) error

// ContainerRuntime drives the container stack for the containers and
// stack-lifecycle endpoints. Implemented by control/runtime.Runner.
type ContainerRuntime interface {
	Up(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
	Restart(ctx context.Context, service string) error
	UpAll(ctx context.Context) error
	Down(ctx context.Context) error
	List(ctx context.Context) ([]runtime.Container, error)
}

// Config wires a Server to the rest of the control plane.
type Config struct {
	Tokens      TokenStore
	Channels    *channelmgr.Manager
	Automations *automation.Scheduler
	Spec        SpecReader
	Artifacts   ArtifactsReader
	Audit       Auditor
	SyncHook    SyncHook
	Logger      *slog.Logger

	// Stager re-renders artifacts from the current spec for the stack
	// install/update endpoints.
	Stager channelmgr.Stager

	// Runtime backs /containers/* and the stack lifecycle endpoints.
	Runtime ContainerRuntime

	// SecretsFile is the .env file /connections merges into.
	SecretsFile string

	// AutomationsDir holds the YAML descriptors the PATCH/DELETE
	// automation endpoints rewrite.
	AutomationsDir string

	// ReloadAutomations restarts the scheduler after an automation
	// mutation.
	ReloadAutomations func() error
}

// Server serves the admin REST API.
type Server struct {
	tokens      TokenStore
	channels    *channelmgr.Manager
	automations *automation.Scheduler
	spec        SpecReader
	artifacts   ArtifactsReader
	audit       Auditor
	syncHook    SyncHook
	logger      *slog.Logger
	now         func() time.Time

	stager            channelmgr.Stager
	runtime           ContainerRuntime
	secretsFile       string
	automationsDir    string
	reloadAutomations func() error

	secretsMu sync.Mutex
}

// New constructs a Server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		tokens:            cfg.Tokens,
		channels:          cfg.Channels,
		automations:       cfg.Automations,
		spec:              cfg.Spec,
		artifacts:         cfg.Artifacts,
		audit:             cfg.Audit,
		syncHook:          cfg.SyncHook,
		logger:            logger.With("component", "admin"),
		now:               time.Now,
		stager:            cfg.Stager,
		runtime:           cfg.Runtime,
		secretsFile:       cfg.SecretsFile,
		automationsDir:    cfg.AutomationsDir,
		reloadAutomations: cfg.ReloadAutomations,
	}
}

// Mux builds the admin HTTP handler: security headers, then auth, wrapping
// the route table.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/setup", s.handleSetup)
	mux.HandleFunc("/audit", s.handleAudit)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/automations", s.handleAutomations)
	mux.HandleFunc("/automations/", s.handleAutomationByID)
	mux.HandleFunc("/channels/install", s.handleChannelInstall)
	mux.HandleFunc("/channels/uninstall", s.handleChannelUninstall)
	mux.HandleFunc("/install", s.handleStackInstall)
	mux.HandleFunc("/update", s.handleStackUpdate)
	mux.HandleFunc("/uninstall", s.handleStackUninstall)
	mux.HandleFunc("/containers/list", s.handleContainersList)
	mux.HandleFunc("/containers/up", s.handleContainerUp)
	mux.HandleFunc("/containers/down", s.handleContainerDown)
	mux.HandleFunc("/containers/restart", s.handleContainerRestart)
	mux.HandleFunc("/connections", s.handleConnections)
	mux.HandleFunc("/artifacts", s.handleArtifactsManifest)
	mux.HandleFunc("/artifacts/manifest", s.handleArtifactsManifest)
	mux.HandleFunc("/artifacts/", s.handleArtifactByName)
	mux.HandleFunc("/spec", s.handleSpec)

	return s.securityHeaders(s.authenticate(mux))
}
