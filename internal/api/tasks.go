package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/tracking"
)

type checkInRequest struct {
	Outcome interface{} `json:"outcome"`
}

// loadTask resolves the :ident task or writes the error response
func (s *Server) loadTask(c *gin.Context) (*domain.Task, bool) {
	task, err := s.engine.Tasks.GetTask(c.Request.Context(), c.Param("ident"))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return task, true
}

func (s *Server) writeTask(c *gin.Context, task *domain.Task) {
	pub, err := s.engine.Tasks.Public(c.Request.Context(), task)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pub)
}

func (s *Server) findTask(c *gin.Context) {
	task, err := s.engine.Tasks.FindTask(c.Request.Context(),
		c.Param("patient"), c.Param("analysis"), c.Param("state"), c.Param("task"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeTask(c, task)
}

func (s *Server) getTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	s.writeTask(c, task)
}

func (s *Server) updateTask(c *gin.Context) {
	var patch tracking.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid task patch: "+err.Error())
		return
	}
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	pub, err := s.engine.Tasks.Update(c.Request.Context(), task, patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pub)
}

// checkIn records a check-in by the authenticated user. ?override=true lifts
// the check-in quota.
func (s *Server) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid check-in: "+err.Error())
		return
	}
	override, _ := strconv.ParseBool(c.Query("override"))

	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	pub, err := s.engine.Tasks.CheckIn(c.Request.Context(), task, currentUser(c), req.Outcome, override, true)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pub)
}

// cancelCheckIn revokes the comma separated outcome keys or check-in idents in
// :target; "all" revokes every check-in of the task
func (s *Server) cancelCheckIn(c *gin.Context) {
	target := c.Param("target")
	all := target == "all"
	var targets []string
	if !all {
		for _, t := range strings.Split(target, ",") {
			if t = strings.TrimSpace(t); t != "" {
				targets = append(targets, t)
			}
		}
	}

	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	pub, err := s.engine.Tasks.CancelCheckIn(c.Request.Context(), task, targets, all)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pub)
}

func (s *Server) assignTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	updated, err := s.engine.Tasks.SetAssignedTo(c.Request.Context(), task, c.Param("user"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeTask(c, updated)
}

func (s *Server) updateCheckInsTarget(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		s.respondError(c, domain.NewError(domain.KindInvalidCheckInTarget, "check-in target %q is not an integer", c.Param("n")))
		return
	}
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	updated, err := s.engine.Tasks.UpdateCheckInsTarget(c.Request.Context(), task, n)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeTask(c, updated)
}
