package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/servisr/internal/config"
	"github.com/loykin/servisr/internal/supervisor"
	itls "github.com/loykin/servisr/internal/tls"
)

// Router provides embeddable HTTP handlers for controlling the supervised
// SERVAL server.
// Endpoints:
//   GET  {basePath}/status            supervisor snapshot
//   GET  {basePath}/health?force=1    health probe (cached unless force)
//   GET  {basePath}/evidence          connection evidence for this instance
//   GET  {basePath}/artifact          located server JAR (404 when none)
//   POST {basePath}/start?validate=1  launch (optionally with full validation)
//   POST {basePath}/stop              orderly shutdown
//   POST {basePath}/restart           stop then start
//   POST {basePath}/connect           ensure running and ready
//   POST {basePath}/disconnect        shutdown and release the client
//   POST {basePath}/discover?force=1  locate JAR and java runtime
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/api" results in /api/status, /api/start, ...
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/health", r.handleHealth)
	group.GET("/evidence", r.handleEvidence)
	group.GET("/artifact", r.handleArtifact)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/connect", r.handleConnect)
	group.POST("/disconnect", r.handleDisconnect)
	group.POST("/discover", r.handleDiscover)
	return g
}

// NewServer starts a standalone plain-HTTP server on addr using this router.
// Shut it down via the returned http.Server.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// NewServerFromConfig starts the control-plane server as configured,
// including TLS when cert sources are set up.
func NewServerFromConfig(cfg config.ServerConfig, sup *supervisor.Supervisor) (*http.Server, error) {
	cfg.Normalize()
	tlsCfg, err := itls.SetupTLS(cfg)
	if err != nil {
		return nil, err
	}
	r := NewRouter(sup, cfg.BasePath)
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsCfg != nil {
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// startResp carries the discovery report when start ran with validation.
type startResp struct {
	OK     bool               `json:"ok"`
	Report *supervisor.Report `json:"report,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status())
}

func (r *Router) handleHealth(c *gin.Context) {
	force := boolQuery(c, "force")
	writeJSON(c, http.StatusOK, r.sup.HealthCheck(c.Request.Context(), force))
}

func (r *Router) handleEvidence(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Evidence())
}

func (r *Router) handleArtifact(c *gin.Context) {
	art, err := r.sup.Artifact()
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, art)
}

func (r *Router) handleStart(c *gin.Context) {
	if boolQuery(c, "validate") {
		rep, err := r.sup.StartWithFullValidation(c.Request.Context())
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, startResp{Report: &rep, Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, startResp{OK: true, Report: &rep})
		return
	}
	if err := r.sup.Start(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.Stop(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.sup.Restart(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleConnect(c *gin.Context) {
	if err := r.sup.Connect(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDisconnect(c *gin.Context) {
	if err := r.sup.Disconnect(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleDiscover always answers 200; the report itself carries any problems
// so callers can render the full picture.
func (r *Router) handleDiscover(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.DiscoverAndValidate(boolQuery(c, "force")))
}
