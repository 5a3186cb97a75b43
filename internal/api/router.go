// Package api exposes a read-only HTTP surface for a UI layer or operator:
// slot statuses, aggregate node state, buffered logs, resource samples and
// Prometheus metrics. There are deliberately no start/stop/register routes;
// commands stay with the embedding application.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peaceprotocol/node-supervisor/internal/manager"
	"github.com/peaceprotocol/node-supervisor/internal/metrics"
	"github.com/peaceprotocol/node-supervisor/internal/orchestrator"
)

// Router provides embeddable HTTP handlers over a manager/orchestrator
// pair. Endpoints:
//
//	GET {basePath}/status            all slots, or ?name=... for one
//	GET {basePath}/status/overall    synthesized stack state
//	GET {basePath}/logs?name=...&n=  last n buffered lines
//	GET {basePath}/resources         latest CPU/memory samples
//	GET {basePath}/metrics           Prometheus exposition
type Router struct {
	mgr      *manager.Manager
	orch     *orchestrator.Orchestrator
	sampler  *metrics.ResourceSampler
	basePath string
}

// NewRouter constructs a Router. sampler may be nil; the resources route
// then returns an empty object.
func NewRouter(mgr *manager.Manager, orch *orchestrator.Orchestrator, sampler *metrics.ResourceSampler, basePath string) *Router {
	return &Router{mgr: mgr, orch: orch, sampler: sampler, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/status/overall", r.handleOverall)
	group.GET("/logs", r.handleLogs)
	group.GET("/resources", r.handleResources)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusOK, r.mgr.AllStatus())
		return
	}
	info, ok := r.mgr.Status(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown slot: " + name})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (r *Router) handleOverall(c *gin.Context) {
	c.JSON(http.StatusOK, r.orch.NodeStatus(c.Request.Context()))
}

func (r *Router) handleLogs(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	n := 100
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
			return
		}
		n = parsed
	}
	lines := r.mgr.Logs(name, n)
	if lines == nil {
		lines = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "lines": lines})
}

func (r *Router) handleResources(c *gin.Context) {
	if r.sampler == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, r.sampler.All())
}

// NewServer starts a standalone HTTP server on addr using this router. A
// listen failure within the startup grace window is returned immediately.
func NewServer(addr string, router *Router) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
		close(serverErrCh)
	}()
	select {
	case err := <-serverErrCh:
		if err != nil {
			return nil, err
		}
	case <-time.After(100 * time.Millisecond):
	}
	return server, nil
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
