package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"graderbot/internal/ai"
	"graderbot/internal/model"
	"graderbot/internal/pkg/csvsheet"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("no file uploaded for this session")
	ErrInvalidCSV      = errors.New("invalid csv file")
)

const defaultUploadExt = ".csv"

// SessionStore maps a file session id to its uploaded CSV. Get returns
// nil, nil for an unknown id.
type SessionStore interface {
	Create(ctx context.Context, session *model.FileSession) error
	Get(ctx context.Context, id string) (*model.FileSession, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.FileSession, error)
}

type Generator interface {
	Generate(ctx context.Context, in ai.GenerateRequest) (*ai.GenerateResult, error)
}

// GenerationDefaults are the fixed parameters of every generation call.
type GenerationDefaults struct {
	Model        string
	System       string
	Temperature  float64
	LastK        int
	RAGThreshold float64
	RAGUsage     bool
	RAGK         int
}

type GraderService struct {
	store     SessionStore
	generator Generator
	defaults  GenerationDefaults
	uploadDir string
	log       *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewGraderService(
	store SessionStore,
	generator Generator,
	defaults GenerationDefaults,
	uploadDir string,
	log *zap.Logger,
) (*GraderService, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GraderService{
		store:     store,
		generator: generator,
		defaults:  defaults,
		uploadDir: uploadDir,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

type UploadInput struct {
	FileName string
	Content  io.Reader
}

type UploadResult struct {
	SessionID   string                `json:"sessionId"`
	Submissions []csvsheet.Submission `json:"data"`
}

// Upload stores the CSV under a fresh name and opens a new session for it.
// Every call mints a new session, whatever came before.
func (s *GraderService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	if input.Content == nil {
		return nil, ErrInvalidInput
	}
	data, err := io.ReadAll(input.Content)
	if err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}

	sheet, err := csvsheet.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}

	ext := filepath.Ext(filepath.Base(input.FileName))
	if ext == "" {
		ext = defaultUploadExt
	}
	filePath := filepath.Join(s.uploadDir, s.newID()+ext)
	if err := writeFileAtomic(filePath, data); err != nil {
		return nil, err
	}

	session := &model.FileSession{
		ID:           s.newID(),
		FilePath:     filePath,
		OriginalName: input.FileName,
		CreatedAt:    s.now(),
	}
	if err := s.store.Create(ctx, session); err != nil {
		_ = os.Remove(filePath)
		return nil, err
	}

	subs := sheet.Submissions()
	s.log.Info("csv uploaded",
		zap.String("session_id", session.ID),
		zap.String("file", input.FileName),
		zap.Int("rows", len(subs)))

	return &UploadResult{SessionID: session.ID, Submissions: subs}, nil
}

func (s *GraderService) ListSubmissions(ctx context.Context, sessionID string) ([]csvsheet.Submission, error) {
	session, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sheet, err := readSheet(session.FilePath)
	if err != nil {
		return nil, err
	}
	return sheet.Submissions(), nil
}

type GenerateInput struct {
	Prompt        string
	UserSessionID string
	Review        string
}

type GenerateResult struct {
	Output     string          `json:"output"`
	RAGContext json.RawMessage `json:"ragContext,omitempty"`
}

// Generate drafts feedback for one review. UserSessionID is the caller's
// retrieval session and is unrelated to the file session.
func (s *GraderService) Generate(ctx context.Context, input GenerateInput) (*GenerateResult, error) {
	userSessionID := strings.TrimSpace(input.UserSessionID)
	if userSessionID == "" {
		return nil, fmt.Errorf("%w: the required field is missing", ErrInvalidInput)
	}

	res, err := s.generator.Generate(ctx, ai.GenerateRequest{
		Model:        s.defaults.Model,
		System:       s.defaults.System,
		Query:        input.Review + input.Prompt,
		Temperature:  s.defaults.Temperature,
		LastK:        s.defaults.LastK,
		SessionID:    userSessionID,
		RAGThreshold: s.defaults.RAGThreshold,
		RAGUsage:     s.defaults.RAGUsage,
		RAGK:         s.defaults.RAGK,
	})
	if err != nil {
		s.log.Warn("generation failed", zap.String("user_session_id", userSessionID), zap.Error(err))
		return nil, err
	}
	return &GenerateResult{Output: res.Response, RAGContext: res.RAGContext}, nil
}

type SaveOutputInput struct {
	SessionID string
	Index     *int
	BotOutput string
}

// SaveOutput rewrites the botOutput cell of one row. A missing or
// out-of-range index leaves the file untouched and reports false.
func (s *GraderService) SaveOutput(ctx context.Context, input SaveOutputInput) (bool, error) {
	session, err := s.lookup(ctx, input.SessionID)
	if err != nil {
		return false, err
	}
	sheet, err := readSheet(session.FilePath)
	if err != nil {
		return false, err
	}

	if input.Index == nil || !sheet.UpdateAt(*input.Index, input.BotOutput) {
		s.log.Warn("save output ignored: index out of range",
			zap.String("session_id", session.ID),
			zap.Any("index", input.Index),
			zap.Int("rows", sheet.Len()))
		return false, nil
	}

	data, err := sheet.Bytes()
	if err != nil {
		return false, fmt.Errorf("encode csv failed: %w", err)
	}
	if err := writeFileAtomic(session.FilePath, data); err != nil {
		return false, err
	}
	s.log.Debug("output saved", zap.String("session_id", session.ID), zap.Int("index", *input.Index))
	return true, nil
}

// DownloadPath returns the on-disk CSV of a session.
func (s *GraderService) DownloadPath(ctx context.Context, sessionID string) (string, error) {
	session, err := s.lookup(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.FilePath, nil
}

// EndSession deletes the session file and entry. Unknown ids and files that
// are already gone are not errors.
func (s *GraderService) EndSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	return s.remove(ctx, *session)
}

// PurgeAll ends every open session.
func (s *GraderService) PurgeAll(ctx context.Context) error {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, session := range sessions {
		if err := s.remove(ctx, session); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if len(sessions) > 0 {
		s.log.Info("sessions purged", zap.Int("count", len(sessions)))
	}
	return firstErr
}

func (s *GraderService) SessionCount(ctx context.Context) (int, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (s *GraderService) UploadDir() string {
	return s.uploadDir
}

func (s *GraderService) remove(ctx context.Context, session model.FileSession) error {
	if err := os.Remove(session.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Error("delete session file failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	if err := s.store.Delete(ctx, session.ID); err != nil {
		return err
	}
	s.log.Info("session ended", zap.String("session_id", session.ID))
	return nil
}

func (s *GraderService) lookup(ctx context.Context, sessionID string) (*model.FileSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func readSheet(path string) (*csvsheet.Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read csv file failed: %w", err)
	}
	sheet, err := csvsheet.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode csv file failed: %w", err)
	}
	return sheet, nil
}

// writeFileAtomic replaces path through a synced sibling temp file and a
// rename, so readers see either the old or the new document.
func writeFileAtomic(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, 0o600, renameio.WithTempDir(filepath.Dir(path))); err != nil {
		return fmt.Errorf("replace csv file failed: %w", err)
	}
	return nil
}
