package handler

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"graderbot/internal/bootstrap"
	redisClient "graderbot/internal/platform/redis"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	uploadStatus := h.checkUploadDir()
	deps := gin.H{"upload_dir": uploadStatus}
	allOK := uploadStatus.OK
	if h.app.Redis != nil {
		redisStatus := h.checkRedis(ctx)
		deps["redis"] = redisStatus
		allOK = allOK && redisStatus.OK
	}

	sessions, err := h.app.Grader.SessionCount(ctx)
	if err != nil {
		sessions = -1
		allOK = false
	}

	statusCode := http.StatusOK
	if !allOK {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"app":          h.app.Config.App.Name,
		"env":          h.app.Config.App.Env,
		"uptime_sec":   int(time.Since(h.app.StartedAt).Seconds()),
		"sessions":     sessions,
		"dependencies": deps,
	})
}

func (h *HealthHandler) checkUploadDir() dependencyStatus {
	info, err := os.Stat(h.app.Grader.UploadDir())
	if err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	if !info.IsDir() {
		return dependencyStatus{OK: false, Message: "not a directory"}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRedis(ctx context.Context) dependencyStatus {
	if err := redisClient.Ping(ctx, h.app.Redis); err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}
