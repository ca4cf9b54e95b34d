package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/tracking"
)

func (s *Server) listHooks(c *gin.Context) {
	hooks, err := s.engine.Hooks.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hooks)
}

func (s *Server) createHook(c *gin.Context) {
	var hook domain.Hook
	if err := c.ShouldBindJSON(&hook); err != nil {
		badRequest(c, "invalid hook: "+err.Error())
		return
	}
	created, err := s.engine.Hooks.Create(c.Request.Context(), &hook)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getHook(c *gin.Context) {
	hook, err := s.engine.Hooks.Get(c.Request.Context(), c.Param("ident"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hook)
}

func (s *Server) updateHook(c *gin.Context) {
	var patch tracking.HookPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid hook patch: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	hook, err := s.engine.Hooks.Get(ctx, c.Param("ident"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	updated, err := s.engine.Hooks.Update(ctx, hook, patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteHook(c *gin.Context) {
	if err := s.engine.Hooks.Delete(c.Request.Context(), c.Param("ident")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
