package http

import (
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"graderbot/internal/bootstrap"
	"graderbot/internal/transport/http/handler"
	"graderbot/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), gin.Recovery(), cors.New(corsConfig()))
	router.MaxMultipartMemory = app.Config.Upload.MaxBytes

	healthHandler := handler.NewHealthHandler(app)
	router.StaticFile("/", filepath.Join(app.Config.App.WebDir, "index.html"))
	router.GET("/healthz", healthHandler.Check)

	graderHandler := handler.NewGraderHandler(app.Grader, app.Config.Upload.MaxBytes, app.Logger.Named("http"))

	api := router.Group("/api")
	api.POST("/upload-csv", graderHandler.UploadCSV)
	api.GET("/get-submissions", graderHandler.GetSubmissions)
	api.POST("/generate-output", graderHandler.GenerateOutput)
	api.POST("/save-output", graderHandler.SaveOutput)
	api.GET("/download-csv", graderHandler.DownloadCSV)
	api.POST("/end-session", graderHandler.EndSession)

	return router
}

// corsConfig opens the API to any origin. A wildcard does not cover
// Authorization, so it is listed explicitly.
func corsConfig() cors.Config {
	return cors.Config{
		AllowAllOrigins: true,
		AllowMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPut,
			http.MethodPatch, http.MethodPost, http.MethodDelete,
		},
		AllowHeaders:  []string{"*", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition"},
	}
}
