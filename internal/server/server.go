package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/iceymoss/go-sched/internal/engine"
	"github.com/iceymoss/go-sched/internal/feed"
	"github.com/iceymoss/go-sched/internal/repo"
	"github.com/iceymoss/go-sched/pkg/db/objects"
)

// Server 管理 API：jobs/actions 的增删改查、日志查询、手动触发
// 调度核心不依赖它，它只是 jobs/actions 行的生产者
type Server struct {
	engine *gin.Engine
}

func NewServer(jobs *repo.JobRepo, sched *engine.Scheduler, pub *feed.Publisher) *Server {
	router := gin.Default()

	api := router.Group("/api")
	{
		api.GET("/jobs", func(c *gin.Context) {
			list, err := jobs.ListJobs(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": list})
		})

		api.POST("/jobs", func(c *gin.Context) {
			var job objects.Job
			if err := c.ShouldBindJSON(&job); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if job.ID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
				return
			}
			job.UpdatedAt = time.Now()
			if err := jobs.SaveJob(c.Request.Context(), &job); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": job})
		})

		api.PUT("/jobs/:id", func(c *gin.Context) {
			existing, err := jobs.FindJob(c.Request.Context(), c.Param("id"))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if existing == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			var job objects.Job
			if err := c.ShouldBindJSON(&job); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			job.ID = existing.ID
			job.UpdatedAt = time.Now()
			if err := jobs.SaveJob(c.Request.Context(), &job); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": job})
		})

		api.DELETE("/jobs/:id", func(c *gin.Context) {
			if err := jobs.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "deleted"})
		})

		api.GET("/jobs/:id/logs", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
			list, err := jobs.RunLogs(c.Request.Context(), c.Param("id"), limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": list})
		})

		api.POST("/jobs/:id/run", func(c *gin.Context) {
			if sched == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler disabled"})
				return
			}
			if err := sched.RunJobNow(c.Request.Context(), c.Param("id")); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "Triggered"})
		})

		api.GET("/actions", func(c *gin.Context) {
			list, err := jobs.ListActions(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": list})
		})

		api.GET("/stats", func(c *gin.Context) {
			if sched == nil {
				c.JSON(http.StatusOK, gin.H{"data": []any{}})
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": sched.Stats().GetAll()})
		})

		api.GET("/runs/recent", func(c *gin.Context) {
			n, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
			list, err := pub.Recent(c.Request.Context(), n)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if list == nil {
				list = []feed.RunSummary{}
			}
			c.JSON(http.StatusOK, gin.H{"data": list})
		})
	}

	return &Server{engine: router}
}

func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}
