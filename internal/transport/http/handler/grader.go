package handler

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"graderbot/internal/app"
	"graderbot/internal/transport/http/response"
)

const downloadFileName = "updated_submissions.csv"

type GraderHandler struct {
	grader        *app.GraderService
	maxUploadSize int64
	log           *zap.Logger
}

type GenerateOutputRequest struct {
	Prompt        string `json:"prompt"`
	UserSessionID string `json:"userSessionID"`
	Review        string `json:"review"`
}

type SaveOutputRequest struct {
	SessionID string `json:"sessionId"`
	Index     *int   `json:"index"`
	BotOutput string `json:"botOutput"`
}

type EndSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type UploadResponse struct {
	Message string `json:"message"`
	*app.UploadResult
}

func NewGraderHandler(grader *app.GraderService, maxUploadSize int64, log *zap.Logger) *GraderHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &GraderHandler{grader: grader, maxUploadSize: maxUploadSize, log: log}
}

// UploadCSV accepts a multipart form with "file" and opens a new session.
func (h *GraderHandler) UploadCSV(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "missing file")
		return
	}
	if h.maxUploadSize > 0 && file.Size > h.maxUploadSize {
		response.Error(c, http.StatusBadRequest, "file too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "Error processing file")
		return
	}
	defer f.Close()

	result, err := h.grader.Upload(c.Request.Context(), app.UploadInput{
		FileName: file.Filename,
		Content:  f,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCSV), errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, err.Error())
		default:
			_ = c.Error(err)
			response.Error(c, http.StatusInternalServerError, "Error processing file")
		}
		return
	}

	response.OK(c, UploadResponse{Message: response.MsgUploaded, UploadResult: result})
}

func (h *GraderHandler) GetSubmissions(c *gin.Context) {
	subs, err := h.grader.ListSubmissions(c.Request.Context(), c.Query("sessionId"))
	if err != nil {
		h.writeSessionError(c, err, "Error reading CSV file")
		return
	}
	response.OK(c, subs)
}

func (h *GraderHandler) GenerateOutput(c *gin.Context) {
	var req GenerateOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.MsgInvalidBody)
		return
	}

	result, err := h.grader.Generate(c.Request.Context(), app.GenerateInput{
		Prompt:        req.Prompt,
		UserSessionID: req.UserSessionID,
		Review:        req.Review,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.MsgMissingField)
		default:
			_ = c.Error(err)
			response.Error(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	response.OK(c, result)
}

// SaveOutput is lenient about the index: out of range answers 200 and
// changes nothing.
func (h *GraderHandler) SaveOutput(c *gin.Context) {
	var req SaveOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.MsgInvalidBody)
		return
	}

	if _, err := h.grader.SaveOutput(c.Request.Context(), app.SaveOutputInput{
		SessionID: req.SessionID,
		Index:     req.Index,
		BotOutput: req.BotOutput,
	}); err != nil {
		h.writeSessionError(c, err, "Error writing CSV file")
		return
	}
	response.Message(c, response.MsgSaved)
}

func (h *GraderHandler) DownloadCSV(c *gin.Context) {
	path, err := h.grader.DownloadPath(c.Request.Context(), c.Query("sessionId"))
	if err != nil {
		h.writeSessionError(c, err, "Error reading CSV file")
		return
	}
	if _, err := os.Stat(path); err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "Error reading CSV file")
		return
	}
	c.FileAttachment(path, downloadFileName)
}

// EndSession always answers 200, whether or not the session existed.
func (h *GraderHandler) EndSession(c *gin.Context) {
	var req EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug("end-session without a readable body", zap.Error(err))
	}
	if err := h.grader.EndSession(c.Request.Context(), req.SessionID); err != nil {
		h.log.Error("end session failed", zap.String("session_id", req.SessionID), zap.Error(err))
	}
	response.Message(c, response.MsgSessionEnded)
}

func (h *GraderHandler) writeSessionError(c *gin.Context, err error, internalMsg string) {
	if errors.Is(err, app.ErrSessionNotFound) {
		response.Error(c, http.StatusBadRequest, response.MsgNoSession)
		return
	}
	_ = c.Error(err)
	response.Error(c, http.StatusInternalServerError, internalMsg)
}
