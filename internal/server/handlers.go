package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cboone/termsnap/internal/capture"
	"github.com/cboone/termsnap/internal/config"
	"github.com/cboone/termsnap/internal/render"
	"github.com/cboone/termsnap/internal/session"
)

// RunRequest is the body of POST /v1/runs. Inputs use the same forms as
// the CLI: key tokens, "text:..." and "resize:WxH".
type RunRequest struct {
	Binary string   `json:"binary" binding:"required"`
	Args   []string `json:"args"`
	Size   string   `json:"size"`
	// Delay is the pause before each input in milliseconds.
	Delay  *int     `json:"delay"`
	Inputs []string `json:"inputs"`
	// Keep leaves the run's directory in place when the server stops.
	Keep bool `json:"keep"`
}

// RunResponse is a finished run.
type RunResponse struct {
	*capture.Result
	SessionDir string `json:"session_dir"`
	Kept       bool   `json:"kept"`
}

type sizeEntry struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Cols    int      `json:"cols"`
	Rows    int      `json:"rows"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"active_runs": len(s.slots),
		"max_runs":    cap(s.slots),
	})
}

func (s *Server) sizes(c *gin.Context) {
	presets := config.Presets()
	out := make([]sizeEntry, len(presets))
	for i, p := range presets {
		out[i] = sizeEntry{Name: p.Name, Aliases: p.Aliases, Cols: p.Size.Cols, Rows: p.Size.Rows}
	}
	c.JSON(http.StatusOK, gin.H{"sizes": out})
}

func (s *Server) createRun(c *gin.Context) {
	var body RunRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.allowed != nil && !s.allowed[body.Binary] {
		c.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("binary %q is not allowed", body.Binary)})
		return
	}

	req, cfg, err := s.buildRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many concurrent runs"})
		return
	}

	name := filepath.Base(body.Binary) + "_" + uuid.NewString()[:8]
	sess := session.New(s.cfg.SessionBase, name, time.Now()).WithSize(req.Size)
	sess.Keep = body.Keep
	if err := sess.Init(); err != nil {
		s.logger.Error("failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session directory"})
		return
	}

	orch := capture.New(cfg,
		capture.WithSink(sess),
		capture.WithObserver(s.metrics),
		capture.WithLogger(s.logger),
		capture.WithRenderer(render.New(render.WithScale(s.cfg.Scale))),
	)
	res := orch.Run(c.Request.Context(), req)
	s.store(&record{result: res, session: sess})

	status := http.StatusOK
	if res.Status == capture.Aborted {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, RunResponse{Result: res, SessionDir: sess.Dir, Kept: sess.Keep})
}

func (s *Server) buildRequest(body RunRequest) (capture.Request, capture.Config, error) {
	cfg := s.cfg.Capture
	if body.Delay != nil {
		if *body.Delay < 0 {
			return capture.Request{}, cfg, errors.New("delay must not be negative")
		}
		if int64(*body.Delay) > s.cfg.MaxDelay.Milliseconds() {
			return capture.Request{}, cfg, fmt.Errorf("delay must not exceed %d ms", s.cfg.MaxDelay.Milliseconds())
		}
		cfg.Delay = time.Duration(*body.Delay) * time.Millisecond
	}

	req := capture.Request{Binary: body.Binary, Args: body.Args, Size: capture.DefaultSize}
	if body.Size != "" {
		size, err := config.ParseSize(body.Size)
		if err != nil {
			return capture.Request{}, cfg, err
		}
		req.Size = size
	}
	for i, in := range body.Inputs {
		if in == "" {
			continue
		}
		act, err := capture.ParseInput(in)
		if err != nil {
			return capture.Request{}, cfg, fmt.Errorf("input %d: %w", i+1, err)
		}
		req.Actions = append(req.Actions, act)
	}
	return req, cfg, nil
}

func (s *Server) getRun(c *gin.Context) {
	rec, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, RunResponse{Result: rec.result, SessionDir: rec.session.Dir, Kept: rec.session.Keep})
}

func (s *Server) stepImage(c *gin.Context) {
	rec, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	index, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "step must be a number"})
		return
	}

	var artifact string
	for _, st := range rec.result.Steps {
		if st.Index == index {
			artifact = st.Artifact
			break
		}
	}
	if artifact == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "step not found"})
		return
	}

	data, err := os.ReadFile(artifact)
	if err != nil {
		s.logger.Warn("failed to read step image", zap.String("path", artifact), zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "image no longer available"})
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}
