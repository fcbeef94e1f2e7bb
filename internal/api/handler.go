// Package api exposes health, queue depth and cycle triggers over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"homespark/harvester/internal/domain"
	"homespark/harvester/internal/queue"
	"homespark/harvester/internal/service"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// CrawlService is the part of the crawl service the handlers need.
type CrawlService interface {
	Targets() []domain.CrawlTarget
	Target(id string) (domain.CrawlTarget, bool)
	IsRunning(targetID string) bool
	Depth(ctx context.Context, target domain.CrawlTarget) (queue.Depth, queue.Depth, error)
	StartCycle(ctx context.Context, target domain.CrawlTarget) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	svc    CrawlService
	checks map[string]HealthCheck
}

func NewHandler(svc CrawlService, checks map[string]HealthCheck) *Handler {
	return &Handler{svc: svc, checks: checks}
}

type targetResponse struct {
	ID               string `json:"id"`
	Site             string `json:"site"`
	Type             string `json:"type"`
	DisplayName      string `json:"display_name"`
	IndexURLTemplate string `json:"index_url_template"`
	PageLimit        int    `json:"page_limit"`
	Running          bool   `json:"running"`
}

type depthResponse struct {
	Target  string      `json:"target"`
	Running bool        `json:"running"`
	Pages   queue.Depth `json:"pages"`
	Items   queue.Depth `json:"items"`
}

// Health handles GET /health. Any failing check makes the service unhealthy.
func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	checks := make(gin.H, len(h.checks))
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			log.Warnf("⚠️ Health check %s failed: %v", name, err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

// ListTargets handles GET /api/v1/targets.
func (h *Handler) ListTargets(c *gin.Context) {
	targets := h.svc.Targets()
	response := make([]targetResponse, 0, len(targets))
	for _, target := range targets {
		response = append(response, targetResponse{
			ID:               target.ID(),
			Site:             target.Site.String(),
			Type:             target.ListingType.String(),
			DisplayName:      target.ListingType.GetDisplayName(),
			IndexURLTemplate: target.IndexURLTemplate,
			PageLimit:        target.PageLimit,
			Running:          h.svc.IsRunning(target.ID()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"targets": response})
}

// GetDepth handles GET /api/v1/targets/:site/:type/depth.
func (h *Handler) GetDepth(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}

	pages, items, err := h.svc.Depth(c.Request.Context(), target)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, depthResponse{
		Target:  target.ID(),
		Running: h.svc.IsRunning(target.ID()),
		Pages:   pages,
		Items:   items,
	})
}

// RunTarget handles POST /api/v1/targets/:site/:type/run. The cycle runs in the background.
func (h *Handler) RunTarget(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}

	err := h.svc.StartCycle(c.Request.Context(), target)
	if errors.Is(err, service.ErrCycleRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "target": target.ID()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Infof("🚀 Cycle for %s triggered over HTTP", target.ID())
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "target": target.ID()})
}

func (h *Handler) target(c *gin.Context) (domain.CrawlTarget, bool) {
	id := c.Param("site") + "/" + c.Param("type")
	if _, _, err := domain.ParseTargetID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.CrawlTarget{}, false
	}

	target, ok := h.svc.Target(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "target is not configured", "target": id})
		return domain.CrawlTarget{}, false
	}
	return target, true
}
