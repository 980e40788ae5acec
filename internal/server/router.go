package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/hylord/internal/auth"
	"github.com/loykin/hylord/internal/backup"
	"github.com/loykin/hylord/internal/ban"
	mng "github.com/loykin/hylord/internal/manager"
	"github.com/loykin/hylord/internal/metrics"
	"github.com/loykin/hylord/internal/process"
)

// Router provides embeddable HTTP handlers for controlling one server.
// Endpoints, relative to basePath:
//
//	GET  /status                 manager status
//	POST /start|/stop|/restart   lifecycle
//	POST /command                body: {"text": "..."}
//	POST /say                    body: {"message": "..."}
//	POST /op|/deop|/kick|/ban    body: {"name": "..."}
//	POST /unban                  body: {"target": "..."}
//	GET  /players|/playtime|/bans|/schedule
//	GET  /backups                list, newest first
//	POST /backups                snapshot now
//	POST /backups/restore        body: {"name": "..."}
//	GET  /events                 websocket stream of notifications
//
// /metrics is served at the root when metrics are enabled. Everything under
// basePath refuses foreign origins and non-JSON bodies, and requires the
// configured credential when auth is enabled.
type Router struct {
	mgr      *mng.Manager
	basePath string
	metrics  bool
	authn    *auth.Middleware
	// backupTimeout bounds create and restore requests.
	backupTimeout time.Duration
}

type RouterOption func(*Router)

func WithMetrics(enabled bool) RouterOption { return func(r *Router) { r.metrics = enabled } }

func WithAuth(m *auth.Middleware) RouterOption { return func(r *Router) { r.authn = m } }

func WithBackupTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.backupTimeout = d }
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string, opts ...RouterOption) *Router {
	r := &Router{mgr: mgr, basePath: sanitizeBase(basePath), backupTimeout: 10 * time.Minute}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath, auth.GinGuard(), r.authn.GinAuth())
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/command", r.handleCommand)
	group.POST("/say", r.handleSay)
	group.POST("/op", r.playerAction(r.mgr.Op))
	group.POST("/deop", r.playerAction(r.mgr.Deop))
	group.POST("/kick", r.playerAction(r.mgr.Kick))
	group.POST("/ban", r.playerAction(r.mgr.Ban))
	group.POST("/unban", r.handleUnban)
	group.GET("/players", r.handlePlayers)
	group.GET("/playtime", r.handlePlaytime)
	group.GET("/bans", r.handleBans)
	group.GET("/schedule", r.handleSchedule)
	group.GET("/backups", r.handleBackups)
	group.POST("/backups", r.handleCreateBackup)
	group.POST("/backups/restore", r.handleRestore)
	group.GET("/events", r.handleEvents)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type textReq struct {
	Text    string `json:"text"`
	Message string `json:"message"`
	Name    string `json:"name"`
	Target  string `json:"target"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Status())
}

func (r *Router) handleStart(c *gin.Context) { r.respond(c, r.mgr.Start()) }

func (r *Router) handleStop(c *gin.Context) { r.respond(c, r.mgr.Stop()) }

func (r *Router) handleRestart(c *gin.Context) { r.respond(c, r.mgr.Restart()) }

func (r *Router) handleCommand(c *gin.Context) {
	var req textReq
	if !bind(c, &req) {
		return
	}
	r.respond(c, r.mgr.Command(req.Text))
}

func (r *Router) handleSay(c *gin.Context) {
	var req textReq
	if !bind(c, &req) {
		return
	}
	r.respond(c, r.mgr.Say(req.Message))
}

func (r *Router) playerAction(fn func(string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req textReq
		if !bind(c, &req) {
			return
		}
		r.respond(c, fn(req.Name))
	}
}

func (r *Router) handleUnban(c *gin.Context) {
	var req textReq
	if !bind(c, &req) {
		return
	}
	rec, err := r.mgr.Unban(req.Target)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handlePlayers(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Players())
}

func (r *Router) handlePlaytime(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Playtime())
}

func (r *Router) handleBans(c *gin.Context) {
	recs, err := r.mgr.Bans()
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, recs)
}

type scheduleResp struct {
	AutoRestart any `json:"auto_restart"`
	AutoBackup  any `json:"auto_backup"`
}

func (r *Router) handleSchedule(c *gin.Context) {
	st := r.mgr.Status()
	writeJSON(c, http.StatusOK, scheduleResp{AutoRestart: st.AutoRestart, AutoBackup: st.AutoBackup})
}

func (r *Router) handleBackups(c *gin.Context) {
	list, err := r.mgr.Backups()
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]backupView, 0, len(list))
	for _, d := range list {
		out = append(out, viewOf(d))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleCreateBackup(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.backupTimeout)
	defer cancel()
	d, err := r.mgr.CreateBackup(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewOf(d))
}

type restoreResp struct {
	Restored  backupView `json:"restored"`
	Safety    backupView `json:"safety"`
	Restarted bool       `json:"restarted"`
}

func (r *Router) handleRestore(c *gin.Context) {
	var req textReq
	if !bind(c, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.backupTimeout)
	defer cancel()
	res, err := r.mgr.RestoreBackup(ctx, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, restoreResp{
		Restored:  viewOf(res.Restored),
		Safety:    viewOf(res.Safety),
		Restarted: res.Restarted,
	})
}

// backupView adds the display strings the dashboards show.
type backupView struct {
	backup.Descriptor
	Size    string `json:"size"`
	Created string `json:"created"`
}

func viewOf(d backup.Descriptor) backupView {
	return backupView{Descriptor: d, Size: d.SizeText(), Created: d.CreatedText()}
}

func (r *Router) respond(c *gin.Context, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, mng.ErrEmptyArgument),
		errors.Is(err, ban.ErrEmptyName),
		errors.Is(err, backup.ErrInvalidArchive):
		return http.StatusBadRequest
	case errors.Is(err, ban.ErrNotFound),
		errors.Is(err, backup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, process.ErrNotRunning),
		errors.Is(err, ban.ErrNotRunning),
		errors.Is(err, process.ErrRestartInProgress),
		errors.Is(err, backup.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, process.ErrCommandQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, backup.ErrSnapshotTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusOf(err), errorResp{Error: err.Error()})
}
