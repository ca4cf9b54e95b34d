package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/tracking"
)

type updateTasksRequest struct {
	Tasks []domain.TaskDefinition `json:"tasks" binding:"required"`
}

type updateGroupRequest struct {
	Group string `json:"group" binding:"required"`
}

func (s *Server) listDefinitions(c *gin.Context) {
	hidden, _ := strconv.ParseBool(c.Query("hidden"))
	defs, err := s.engine.Definitions.List(c.Request.Context(), hidden)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

func (s *Server) createDefinition(c *gin.Context) {
	var def domain.StateDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		badRequest(c, "invalid definition: "+err.Error())
		return
	}
	created, err := s.engine.Definitions.Create(c.Request.Context(), &def)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getDefinition(c *gin.Context) {
	def, err := s.engine.Definitions.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) updateDefinition(c *gin.Context) {
	var patch tracking.DefinitionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid definition patch: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	def, err := s.engine.Definitions.Get(ctx, c.Param("slug"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	updated, err := s.engine.Definitions.Update(ctx, def, patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteDefinition(c *gin.Context) {
	if err := s.engine.Definitions.Delete(c.Request.Context(), c.Param("slug")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) updateDefinitionTasks(c *gin.Context) {
	var req updateTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid task list: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	def, err := s.engine.Definitions.Get(ctx, c.Param("slug"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	updated, err := s.engine.Definitions.UpdateTasks(ctx, def, req.Tasks, true)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) updateDefinitionGroup(c *gin.Context) {
	var req updateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "a group ident is required")
		return
	}
	ctx := c.Request.Context()
	def, err := s.engine.Definitions.Get(ctx, c.Param("slug"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	updated, err := s.engine.Definitions.UpdateGroup(ctx, def, req.Group)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
