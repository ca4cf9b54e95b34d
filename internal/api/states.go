package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/tracking"
)

type generateRequest struct {
	Targets []domain.NextStateTarget `json:"targets"`
}

func (s *Server) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid generate request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	analysis, err := s.engine.Store().Analyses().GetByIdent(ctx, c.Param("analysis"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	var createdBy *int64
	if user := currentUser(c); user != nil {
		createdBy = &user.ID
	}

	var states []*domain.State
	if len(req.Targets) == 0 {
		states, err = s.engine.Generator.GenerateAll(ctx, analysis.ID, createdBy)
	} else {
		states, err = s.engine.Generator.GenerateTrackingStates(ctx, analysis.ID, req.Targets, createdBy)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, states)
}

func (s *Server) listStates(c *gin.Context) {
	states, err := s.engine.States.ListByAnalysis(c.Request.Context(), c.Param("analysis"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}

func (s *Server) findState(c *gin.Context) {
	ctx := c.Request.Context()
	state, err := s.engine.States.FindState(ctx, c.Param("patient"), c.Param("analysis"), c.Param("state"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeState(c, http.StatusOK, state)
}

// loadState resolves the :ident state or writes the error response
func (s *Server) loadState(c *gin.Context) (*domain.State, bool) {
	state, err := s.engine.States.GetState(c.Request.Context(), c.Param("ident"))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return state, true
}

func (s *Server) writeState(c *gin.Context, code int, state *domain.State) {
	pub, err := s.engine.States.Public(c.Request.Context(), state)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(code, pub)
}

func (s *Server) getState(c *gin.Context) {
	state, ok := s.loadState(c)
	if !ok {
		return
	}
	s.writeState(c, http.StatusOK, state)
}

func (s *Server) updateState(c *gin.Context) {
	var patch tracking.StatePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid state patch: "+err.Error())
		return
	}
	state, ok := s.loadState(c)
	if !ok {
		return
	}
	pub, err := s.engine.States.UpdateAll(c.Request.Context(), state, patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pub)
}

func (s *Server) deleteState(c *gin.Context) {
	if err := s.engine.States.Delete(c.Request.Context(), c.Param("ident")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// setStateStatus persists the status unless ?save=false, which only previews
// it and fires the matching hooks
func (s *Server) setStateStatus(c *gin.Context) {
	save := true
	if v := c.Query("save"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "save must be a boolean")
			return
		}
		save = parsed
	}
	state, ok := s.loadState(c)
	if !ok {
		return
	}
	updated, err := s.engine.States.SetStatus(c.Request.Context(), state, domain.StateStatus(c.Param("status")), save)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeState(c, http.StatusOK, updated)
}

func (s *Server) assignState(c *gin.Context) {
	state, ok := s.loadState(c)
	if !ok {
		return
	}
	updated, err := s.engine.States.AssignUser(c.Request.Context(), state, c.Param("user"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeState(c, http.StatusOK, updated)
}

func (s *Server) createNextState(c *gin.Context) {
	state, ok := s.loadState(c)
	if !ok {
		return
	}
	next, err := s.engine.States.CreateNextState(c.Request.Context(), state)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if next == nil {
		next = []*domain.State{}
	}
	c.JSON(http.StatusOK, next)
}
