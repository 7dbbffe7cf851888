package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/latticehq/lattice/backend/internal/bundle"
	"github.com/latticehq/lattice/backend/internal/capability"
	"github.com/latticehq/lattice/backend/internal/shared/types"
	"github.com/latticehq/lattice/backend/internal/validator"
)

// handlers binds the REST surface to a Host
type handlers struct {
	host *Host
}

func newHandlers(host *Host) *handlers {
	return &handlers{host: host}
}

// Root handles the banner check
func (h *handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Lattice Canvas Host",
		"scope":   h.host.cfg.Server.ScopeID,
	})
}

// Health reports per-subsystem stats
func (h *handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"scope":    h.host.cfg.Server.ScopeID,
		"registry": h.host.registry.Stats(),
		"pipeline": h.host.pipeline.Stats(),
		"scopes":   len(h.host.router.Scopes()),
	})
}

// Stats aggregates the counters of every subsystem
func (h *handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"registry": h.host.registry.Stats(),
		"pipeline": h.host.pipeline.Stats(),
		"scopes":   h.host.router.Scopes(),
		"routes":   len(h.host.routes.Routes()),
	})
}

type registerManifestRequest struct {
	// Exactly one of Path or URL selects the bundle source.
	Path string `json:"path"`
	URL  string `json:"url"`
}

func (h *handlers) loadBundle(c *gin.Context) (*bundle.Bundle, bool) {
	var req registerManifestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	var (
		b   *bundle.Bundle
		err error
	)
	switch {
	case req.URL != "":
		b, err = h.host.fetcher.Fetch(c.Request.Context(), req.URL)
	case req.Path != "":
		b, err = h.host.loader.Load(req.Path)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "path or url is required"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return b, true
}

// RegisterManifest loads a bundle, validates it, and registers it on pass
func (h *handlers) RegisterManifest(c *gin.Context) {
	b, ok := h.loadBundle(c)
	if !ok {
		return
	}

	result, err := h.host.RegisterBundle(b)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      err.Error(),
			"validation": result,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"manifest":   b.Manifest.Key(),
		"hash":       b.Hash,
		"validation": result,
	})
}

// ValidateBundle runs validation without registering anything
func (h *handlers) ValidateBundle(c *gin.Context) {
	b, ok := h.loadBundle(c)
	if !ok {
		return
	}
	result := h.host.validator.Validate(b.RawManifest, b.Entry)
	c.JSON(http.StatusOK, gin.H{
		"manifest":   b.Manifest.Key(),
		"hash":       b.Hash,
		"validation": result,
	})
}

// ListManifests lists every registered manifest
func (h *handlers) ListManifests(c *gin.Context) {
	manifests := h.host.registry.Manifests()
	c.JSON(http.StatusOK, gin.H{
		"manifests": manifests,
		"count":     len(manifests),
	})
}

// GetManifest fetches a single manifest by key
func (h *handlers) GetManifest(c *gin.Context) {
	manifest, ok := h.host.registry.Manifest(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown manifest"})
		return
	}
	c.JSON(http.StatusOK, manifest)
}

type mountRequest struct {
	Manifest string `json:"manifest" binding:"required"`
	// Remote mounts wait for a WebSocket widget to attach instead of
	// running the entry script in the in-process sandbox.
	Remote bool `json:"remote"`
}

// MountWidget mounts an instance of a registered widget
func (h *handlers) MountWidget(c *gin.Context) {
	var req mountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := h.host.MountWidget(req.Manifest, req.Remote)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, inst)
}

// ListWidgets lists instances, optionally filtered by ?state=
func (h *handlers) ListWidgets(c *gin.Context) {
	var filter *types.State
	if s := c.Query("state"); s != "" {
		state := types.State(s)
		filter = &state
	}
	instances := h.host.registry.List(filter)
	c.JSON(http.StatusOK, gin.H{
		"widgets": instances,
		"count":   len(instances),
	})
}

// GetWidget fetches one instance
func (h *handlers) GetWidget(c *gin.Context) {
	inst, ok := h.host.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown instance"})
		return
	}
	c.JSON(http.StatusOK, inst)
}

// UnmountWidget tears an instance down
func (h *handlers) UnmountWidget(c *gin.Context) {
	if err := h.host.UnmountWidget(c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unmounted": c.Param("id")})
}

// SuspendWidget backgrounds an active instance
func (h *handlers) SuspendWidget(c *gin.Context) {
	if err := h.host.SuspendWidget(c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suspended": c.Param("id")})
}

// ResumeWidget reactivates a suspended instance
func (h *handlers) ResumeWidget(c *gin.Context) {
	if err := h.host.ResumeWidget(c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": c.Param("id")})
}

type connectionRequest struct {
	From types.PortRef `json:"from" binding:"required"`
	To   types.PortRef `json:"to" binding:"required"`
}

// AddConnection wires an output port to an input port
func (h *handlers) AddConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.host.pipeline.AddConnection(req.From, req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conn)
}

// ListConnections lists the live connection set
func (h *handlers) ListConnections(c *gin.Context) {
	conns := h.host.pipeline.Connections()
	c.JSON(http.StatusOK, gin.H{
		"connections": conns,
		"count":       len(conns),
	})
}

// RemoveConnection deletes a connection
func (h *handlers) RemoveConnection(c *gin.Context) {
	if err := h.host.pipeline.RemoveConnection(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
}

type enableRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetConnectionEnabled toggles a connection without deleting it
func (h *handlers) SetConnectionEnabled(c *gin.Context) {
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.host.pipeline.SetConnectionEnabled(c.Param("id"), *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": c.Param("id"), "enabled": *req.Enabled})
}

// ValidatePipeline runs the graph-shape check over the live connection
// set. Shape findings are warnings; a flagged graph keeps routing.
func (h *handlers) ValidatePipeline(c *gin.Context) {
	check := validator.CheckGraphShape(h.host.pipeline.Connections())
	c.JSON(http.StatusOK, gin.H{
		"passed": check.Passed,
		"checks": []types.ValidationCheck{check},
	})
}

// ExportPipeline snapshots the connection set for external storage
func (h *handlers) ExportPipeline(c *gin.Context) {
	p := h.host.pipeline.Export(c.Query("id"), h.host.cfg.Server.ScopeID)
	c.JSON(http.StatusOK, p)
}

// ImportPipeline restores a previously exported connection set
func (h *handlers) ImportPipeline(c *gin.Context) {
	var p types.Pipeline
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.host.pipeline.Import(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": len(p.Connections)})
}

type suggestRequest struct {
	Output     types.PortDefinition   `json:"output" binding:"required"`
	Candidates []capability.Candidate `json:"candidates"`
	// Threshold > 0 switches from ranking to auto-wire filtering.
	Threshold float64 `json:"threshold"`
}

// Suggest ranks candidate input ports for an output port
func (h *handlers) Suggest(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var suggestions []capability.Suggestion
	if req.Threshold > 0 {
		suggestions = h.host.matcher.AutoWire(req.Output, req.Candidates, req.Threshold)
	} else {
		suggestions = h.host.matcher.Suggest(req.Output, req.Candidates)
	}
	c.JSON(http.StatusOK, gin.H{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

type routeRequest struct {
	SourceScope   string             `json:"source_scope" binding:"required"`
	Source        types.ScopePortRef `json:"source" binding:"required"`
	TargetScope   string             `json:"target_scope" binding:"required"`
	Target        types.ScopePortRef `json:"target" binding:"required"`
	Bidirectional bool               `json:"bidirectional"`
}

// AddRoute links ports across canvas boundaries
func (h *handlers) AddRoute(c *gin.Context) {
	var req routeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	route, err := h.host.routes.AddRoute(req.SourceScope, req.Source, req.TargetScope, req.Target, req.Bidirectional)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, route)
}

// ListRoutes lists the canvas route table
func (h *handlers) ListRoutes(c *gin.Context) {
	routes := h.host.routes.Routes()
	c.JSON(http.StatusOK, gin.H{
		"routes": routes,
		"count":  len(routes),
	})
}

// RemoveRoute deletes a canvas route
func (h *handlers) RemoveRoute(c *gin.Context) {
	if err := h.host.routes.RemoveRoute(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
}

// SetRouteEnabled toggles a route without deleting it
func (h *handlers) SetRouteEnabled(c *gin.Context) {
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.host.routes.SetRouteEnabled(c.Param("id"), *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"route": c.Param("id"), "enabled": *req.Enabled})
}

// ListScopes lists the known remote scopes
func (h *handlers) ListScopes(c *gin.Context) {
	scopes := h.host.router.Scopes()
	c.JSON(http.StatusOK, gin.H{
		"scopes": scopes,
		"count":  len(scopes),
	})
}

type subscribeRequest struct {
	EventTypes []string `json:"event_types"`
}

// SubscribeScope narrows which remote event types re-dispatch locally
func (h *handlers) SubscribeScope(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	subID := h.host.router.SubscribeToScope(c.Param("id"), req.EventTypes)
	c.JSON(http.StatusOK, gin.H{"subscription": subID})
}

// Unsubscribe removes a scope subscription
func (h *handlers) Unsubscribe(c *gin.Context) {
	h.host.router.Unsubscribe(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
}
