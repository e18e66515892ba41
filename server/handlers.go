package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kamaleddin/threadify/model"
	"github.com/kamaleddin/threadify/orchestrator"
	"github.com/kamaleddin/threadify/store"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"github.com/pkg/errors"
)

// Handlers binds the HTTP API to the orchestration core. Auto-mode runs and
// approvals feed the scheduler; everything else is reads.
type Handlers struct {
	Store     store.RunStore
	Machine   *orchestrator.Machine
	Scheduler *orchestrator.Scheduler
}

type submitBody struct {
	Url           string `json:"url" binding:"required"`
	Account       string `json:"account"`
	Mode          string `json:"mode"`
	Type          string `json:"type"`
	Style         string `json:"style"`
	Hook          bool   `json:"hook"`
	NoReference   bool   `json:"no_reference"`
	ReferenceText string `json:"reference_text"`
	UtmCampaign   string `json:"utm_campaign"`
	ThreadCap     int    `json:"thread_cap"`
	Force         bool   `json:"force"`
}

func (h *Handlers) Register(router gin.IRoutes) {
	router.POST("/api/submit", h.Submit)
	router.GET("/api/runs", h.ListRuns)
	router.GET("/api/runs/:id", h.GetRun)
	router.POST("/api/runs/:id/approve", h.Approve)
	router.POST("/api/runs/:id/cancel", h.Cancel)
}

func (h *Handlers) Submit(c *gin.Context) {
	body := submitBody{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Machine.Submit(orchestrator.SubmitRequest{
		Url:           body.Url,
		AccountHandle: body.Account,
		Mode:          body.Mode,
		Type:          body.Type,
		Style:         body.Style,
		Hook:          body.Hook,
		NoReference:   body.NoReference,
		ReferenceText: body.ReferenceText,
		UtmCampaign:   body.UtmCampaign,
		ThreadCap:     body.ThreadCap,
		Force:         body.Force,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	run := result.Run
	if run.Status == model.RunStatusApproved {
		if err := h.Scheduler.Enqueue(c.Request.Context(), run.Id, run.AccountID); err != nil {
			Logger.Log.Errorf("cannot schedule run %s: %v", run.Id, err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"run":     run,
		"warning": result.Warning,
	})
}

func (h *Handlers) Approve(c *gin.Context) {
	run, err := h.Machine.Approve(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if err := h.Scheduler.Enqueue(c.Request.Context(), run.Id, run.AccountID); err != nil {
		Logger.Log.Errorf("cannot schedule run %s: %v", run.Id, err)
	}

	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (h *Handlers) Cancel(c *gin.Context) {
	if err := h.Scheduler.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": c.Param("id")})
}

func (h *Handlers) GetRun(c *gin.Context) {
	run, err := h.Store.GetRun(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (h *Handlers) ListRuns(c *gin.Context) {
	accountId := c.Query("account_id")
	runs, err := h.Store.ListRuns(accountId, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Healthz is unauthenticated, for load balancer probes.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
