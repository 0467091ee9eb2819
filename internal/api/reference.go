package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medical-decision-assistant/internal/feedback"
)

const (
	defaultFeedbackPage = 50
	maxFeedbackPage     = 500
)

func (s *Server) handleListTerms(c *gin.Context) {
	if s.deps.Terms == nil {
		unavailable(c, errServiceMissing)
		return
	}
	groups := s.deps.Terms.Groups()
	c.JSON(http.StatusOK, gin.H{"count": len(groups), "groups": groups})
}

func (s *Server) handleNormalizeTerm(c *gin.Context) {
	term := strings.TrimSpace(c.Query("term"))
	if term == "" {
		badRequest(c, "术语不能为空")
		return
	}
	if s.deps.Terms == nil {
		unavailable(c, errServiceMissing)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"term":     term,
		"standard": s.deps.Terms.Normalize(term),
		"synonyms": s.deps.Terms.Synonyms(term),
	})
}

func (s *Server) handleExpandQuery(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, "查询不能为空")
		return
	}
	if s.deps.Terms == nil {
		unavailable(c, errServiceMissing)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "expanded": s.deps.Terms.ExpandQuery(q)})
}

func (s *Server) handleInsulinStatistics(c *gin.Context) {
	if s.deps.Insulin == nil {
		unavailable(c, errServiceMissing)
		return
	}

	stats, err := s.deps.Insulin.Analyze(c.Query("dimension"))
	if err != nil {
		s.writeError(c, "insulin_statistics", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleSubmitFeedback(c *gin.Context) {
	if s.deps.Feedback == nil {
		unavailable(c, errFeedbackDisabled)
		return
	}

	var fb feedback.Feedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		badRequest(c, errInvalidBody)
		return
	}
	fb.ID = 0

	if err := s.deps.Feedback.Save(c.Request.Context(), &fb); err != nil {
		s.writeError(c, "submit_feedback", err)
		return
	}
	c.JSON(http.StatusCreated, fb)
}

func (s *Server) handleListFeedback(c *gin.Context) {
	if s.deps.Feedback == nil {
		unavailable(c, errFeedbackDisabled)
		return
	}

	limit := queryInt(c, "limit", defaultFeedbackPage)
	if limit <= 0 || limit > maxFeedbackPage {
		limit = defaultFeedbackPage
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	entries, err := s.deps.Feedback.List(ctx, limit, offset)
	if err != nil {
		s.writeError(c, "list_feedback", err)
		return
	}
	total, err := s.deps.Feedback.Count(ctx)
	if err != nil {
		s.writeError(c, "count_feedback", err)
		return
	}
	if entries == nil {
		entries = []*feedback.Feedback{}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"summary":  feedback.Summarize(entries),
		"feedback": entries,
	})
}

func (s *Server) handleExportFeedback(c *gin.Context) {
	if s.deps.Feedback == nil {
		unavailable(c, errFeedbackDisabled)
		return
	}

	filename := fmt.Sprintf("feedback-%s.json", time.Now().Format("20060102-150405"))
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	if err := s.deps.Feedback.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		// Headers are already sent; the truncated body is the only signal left.
		s.logger.WithError(err).Error("Feedback export failed")
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
