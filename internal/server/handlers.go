package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridsim/notebook/internal/scheduler"
)

type executeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "notebook-execution-backend",
		"status":  "running",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"runtime_ready": s.bridge.Ready(),
	})
}

// handleExecute runs ad-hoc code against the persistent namespace. User
// code failures are a 200 with result.error set; only transport failures
// produce a 5xx.
func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.bridge.Execute(c.Request.Context(), req.Code)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	outcome := "success"
	if res.Error != nil {
		outcome = "error"
	}
	s.metrics.ObserveExecution(outcome, res.Duration, len(res.Figures))

	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) handleListCells(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cells": s.sched.Cells()})
}

// handleRunCell executes a cell and its prerequisite chain. Scheduling
// failures (unknown cell, cycle) are 4xx; a failed chain is a 200 with
// success=false so the frontend can attribute the failing cell.
func (s *Server) handleRunCell(c *gin.Context) {
	cellID := c.Param("id")

	if _, ok := s.sched.Status(cellID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown cell: " + cellID})
		return
	}

	result := s.runner.Run(c.Request.Context(), cellID)
	s.metrics.ObserveCellRun(result.Success)

	if !result.Success && result.Error == scheduler.ErrCircularMessage {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Error})
		return
	}

	payload := gin.H{"success": result.Success}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	if res, ok := s.runner.Result(cellID); ok {
		payload["result"] = res
	}
	c.JSON(http.StatusOK, payload)
}

// handleReset clears cell state and the runtime namespace.
func (s *Server) handleReset(c *gin.Context) {
	if err := s.runner.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
