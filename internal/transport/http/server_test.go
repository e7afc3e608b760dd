package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graderbot/internal/ai"
	appsvc "graderbot/internal/app"
	"graderbot/internal/bootstrap"
	"graderbot/internal/config"
	"graderbot/internal/pkg/csvsheet"
	"graderbot/internal/repository"
)

type testEnv struct {
	router *gin.Engine
	app    *bootstrap.App
	llm    *httptest.Server
	llmReq chan map[string]interface{}
}

func newTestEnv(t *testing.T, llmHandler http.HandlerFunc) *testEnv {
	t.Helper()
	dir := t.TempDir()

	env := &testEnv{llmReq: make(chan map[string]interface{}, 4)}
	if llmHandler == nil {
		llmHandler = func(w http.ResponseWriter, r *http.Request) {
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			env.llmReq <- body
			_, _ = w.Write([]byte(`{"result":"Drafted feedback","rag_context":[]}`))
		}
	}
	env.llm = httptest.NewServer(llmHandler)
	t.Cleanup(env.llm.Close)

	cfg := &config.Config{
		App:     config.AppConfig{Name: "graderbot", Env: "test", GinMode: gin.TestMode, WebDir: filepath.Join(dir, "web")},
		Upload:  config.UploadConfig{Dir: filepath.Join(dir, "uploads"), MaxBytes: 1 << 20},
		Session: config.SessionConfig{Backend: config.SessionBackendMemory},
		LLM: config.LLMConfig{
			Endpoint:     env.llm.URL,
			APIKey:       "k",
			Model:        "gpt4-new",
			SystemPrompt: "Give your best response.",
			Temperature:  0.2,
			RAGThreshold: 0.5,
		},
	}
	require.NoError(t, os.MkdirAll(cfg.App.WebDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.App.WebDir, "index.html"), []byte("<html>grader</html>"), 0o644))

	generator := ai.NewGenerationClient(ai.GenerationConfig{Endpoint: cfg.LLM.Endpoint, APIKey: cfg.LLM.APIKey, Timeout: 5 * time.Second})
	grader, err := appsvc.NewGraderService(repository.NewFileSessionRepository(), generator, bootstrap.GenerationDefaults(cfg.LLM), cfg.Upload.Dir, zap.NewNop())
	require.NoError(t, err)

	env.app = &bootstrap.App{Config: cfg, Logger: zap.NewNop(), Grader: grader, StartedAt: time.Now()}
	env.router = NewRouter(env.app)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload-csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type uploadBody struct {
	Message   string                `json:"message"`
	SessionID string                `json:"sessionId"`
	Data      []csvsheet.Submission `json:"data"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestGraderFlow_UploadSaveDownload(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.upload(t, "reviews.csv", "Please enter your paper review below,botOutput\nGood paper,\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	up := decode[uploadBody](t, w)
	assert.Equal(t, "File uploaded successfully", up.Message)
	require.NotEmpty(t, up.SessionID)
	assert.Equal(t, []csvsheet.Submission{{Review: "Good paper", BotOutput: ""}}, up.Data)

	w = env.do(t, http.MethodGet, "/api/get-submissions?sessionId="+up.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []csvsheet.Submission{{Review: "Good paper", BotOutput: ""}}, decode[[]csvsheet.Submission](t, w))

	w = env.do(t, http.MethodPost, "/api/save-output", gin.H{"sessionId": up.SessionID, "index": 0, "botOutput": "Nice work"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"message":"CSV updated successfully"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/get-submissions?sessionId="+up.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []csvsheet.Submission{{Review: "Good paper", BotOutput: "Nice work"}}, decode[[]csvsheet.Submission](t, w))

	w = env.do(t, http.MethodGet, "/api/download-csv?sessionId="+up.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "updated_submissions.csv")
	sheet, err := csvsheet.DecodeBytes(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Nice work", sheet.Submissions()[0].BotOutput)
}

func TestGraderFlow_EndSession(t *testing.T) {
	env := newTestEnv(t, nil)
	up := decode[uploadBody](t, env.upload(t, "reviews.csv", "Please enter your paper review below\nGood paper\n"))

	w := env.do(t, http.MethodPost, "/api/end-session", gin.H{"sessionId": up.SessionID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Session ended, file deleted."}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/get-submissions?sessionId="+up.SessionID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	entries, err := os.ReadDir(env.app.Config.Upload.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// unknown id, empty body and repeated calls all answer 200
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/end-session", gin.H{"sessionId": up.SessionID}).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/end-session", nil).Code)
}

func TestGraderHandler_UnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, target := range []string{
		"/api/get-submissions?sessionId=nope",
		"/api/get-submissions",
		"/api/download-csv?sessionId=nope",
	} {
		w := env.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.JSONEq(t, `{"error":"No file uploaded for this session"}`, w.Body.String())
	}

	w := env.do(t, http.MethodPost, "/api/save-output", gin.H{"sessionId": "nope", "index": 0, "botOutput": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGraderHandler_SaveOutOfRange(t *testing.T) {
	env := newTestEnv(t, nil)
	up := decode[uploadBody](t, env.upload(t, "reviews.csv", "Please enter your paper review below\nGood paper\n"))

	w := env.do(t, http.MethodPost, "/api/save-output", gin.H{"sessionId": up.SessionID, "index": 5, "botOutput": "x"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/get-submissions?sessionId="+up.SessionID, nil)
	assert.Equal(t, []csvsheet.Submission{{Review: "Good paper"}}, decode[[]csvsheet.Submission](t, w))
}

func TestGraderHandler_UploadErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/upload-csv", strings.NewReader(""))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.upload(t, "sheet.xlsx", "PK\x03\x04\x00\x00")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.upload(t, "big.csv", strings.Repeat("x", 2<<20))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGraderHandler_GenerateOutput(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/generate-output", gin.H{
		"prompt":        " Please grade.",
		"userSessionID": "rag-session",
		"review":        "Good paper",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Drafted feedback", decode[map[string]interface{}](t, w)["output"])

	body := <-env.llmReq
	assert.Equal(t, "Good paper Please grade.", body["query"])
	assert.Equal(t, "rag-session", body["session_id"])
	assert.Equal(t, "gpt4-new", body["model"])
}

func TestGraderHandler_GenerateOutputRequiresUserSessionID(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, id := range []string{"", "  "} {
		w := env.do(t, http.MethodPost, "/api/generate-output", gin.H{"prompt": "p", "userSessionID": id, "review": "r"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"The required field is missing."}`, w.Body.String())
	}
	assert.Len(t, env.llmReq, 0)
}

func TestGraderHandler_GenerateOutputUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	w := env.do(t, http.MethodPost, "/api/generate-output", gin.H{"prompt": "p", "userSessionID": "rag", "review": "r"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "502")
}

func TestRouter_HealthAndIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upload(t, "reviews.csv", "Please enter your paper review below\nGood paper\n")

	w := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]interface{}](t, w)
	assert.Equal(t, "graderbot", health["app"])
	assert.Equal(t, float64(1), health["sessions"])

	w = env.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "grader")
}

func TestRouter_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/save-output", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_CORSPreflightCustomHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/generate-output", nil)
	req.Header.Set("Origin", "http://grader.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Custom, Authorization")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	allowed := strings.Split(w.Header().Get("Access-Control-Allow-Headers"), ",")
	assert.Contains(t, allowed, "*")
	assert.Contains(t, allowed, "Authorization")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}
