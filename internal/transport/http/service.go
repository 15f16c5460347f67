package httptransport

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"voicestudio-server/internal/domain/synthesis"
	"voicestudio-server/internal/domain/training"
	"voicestudio-server/internal/domain/voice"
	"voicestudio-server/internal/platform/config"
	"voicestudio-server/internal/platform/errors"
	"voicestudio-server/internal/platform/logging"
)

const maxUploadBytes = 100 << 20

// Service is the HTTP surface over the registry, orchestrator and
// synthesis service.
type Service struct {
	config       *config.Config
	logger       *logging.Logger
	registry     *voice.Registry
	orchestrator *training.Orchestrator
	synth        *synthesis.Service
}

// NewService validates and bundles the handler dependencies.
func NewService(
	cfg *config.Config,
	registry *voice.Registry,
	orchestrator *training.Orchestrator,
	synth *synthesis.Service,
	logger *logging.Logger,
) (*Service, error) {
	if cfg == nil {
		return nil, errors.New(errors.KindConfig, "httptransport.new", "config is required")
	}
	if registry == nil {
		return nil, errors.New(errors.KindConfig, "httptransport.new", "voice registry is required")
	}
	if orchestrator == nil {
		return nil, errors.New(errors.KindConfig, "httptransport.new", "training orchestrator is required")
	}
	if synth == nil {
		return nil, errors.New(errors.KindConfig, "httptransport.new", "synthesis service is required")
	}
	if logger == nil {
		return nil, errors.New(errors.KindConfig, "httptransport.new", "logger is required")
	}

	return &Service{
		config:       cfg,
		logger:       logger,
		registry:     registry,
		orchestrator: orchestrator,
		synth:        synth,
	}, nil
}

// Register wires all routes onto the engine and its /api group.
func (s *Service) Register(router *Router) {
	router.Engine.GET("/health", s.handleHealth)

	api := router.API
	api.GET("/voices", s.handleListVoices)
	api.POST("/voices/clone", s.handleCloneVoice)
	api.GET("/voices/:id/status", s.handleVoiceStatus)
	api.DELETE("/voices/:id", s.handleDeleteVoice)
	api.POST("/tts/generate", s.handleGenerate)
	api.GET("/languages", s.handleLanguages)
	api.GET("/training/:session_id", s.handleTrainingProgress)
	api.GET("/training/:session_id/stream", s.handleTrainingStream)

	s.logger.InfoTag("HTTP", "routes registered")
}

func (s *Service) handleHealth(c *gin.Context) {
	voices, err := s.registry.List()
	if err != nil {
		s.logger.WarnTag("HTTP", "health voice listing: %v", err)
	}

	system := gin.H{}
	if vm, err := mem.VirtualMemory(); err == nil {
		system["memory_percent"] = vm.UsedPercent
		system["memory_used_mb"] = vm.Used / (1 << 20)
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		system["cpu_percent"] = percents[0]
	}

	RespondSuccess(c, http.StatusOK, gin.H{
		"status":      "ok",
		"model_ready": s.synth.Ready(),
		"voice_count": len(voices),
		"system":      system,
	}, "")
}

func (s *Service) handleListVoices(c *gin.Context) {
	voices, err := s.registry.List()
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{"voices": voices}, "")
}

func (s *Service) handleVoiceStatus(c *gin.Context) {
	v, err := s.registry.Get(c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, v, "")
}

func (s *Service) handleDeleteVoice(c *gin.Context) {
	if err := s.registry.Delete(c.Param("id")); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "voice deleted")
}

func (s *Service) handleCloneVoice(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid multipart form", nil)
		return
	}
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		RespondError(c, http.StatusBadRequest, "name is required", nil)
		return
	}
	description := c.PostForm("description")

	form := c.Request.MultipartForm
	files := form.File["files"]
	if len(files) < 1 {
		RespondError(c, http.StatusBadRequest, "at least one audio file required", nil)
		return
	}

	voiceID := uuid.NewString()
	var paths []string
	for _, header := range files {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext != ".wav" && ext != ".mp3" {
			RespondError(c, http.StatusBadRequest,
				fmt.Sprintf("file %s is not a supported audio type", header.Filename), nil)
			return
		}
		dst := filepath.Join(s.config.Paths.Uploads, uuid.NewString()+ext)
		if err := saveUpload(header, dst); err != nil {
			RespondError(c, http.StatusInternalServerError, "failed to store upload", nil)
			return
		}
		paths = append(paths, dst)
	}

	sessionID, err := s.orchestrator.StartTraining(training.Config{
		VoiceID:             voiceID,
		Name:                name,
		Description:         description,
		AudioFiles:          paths,
		QualityThreshold:    s.config.Training.QualityThreshold,
		MinTotalDuration:    s.config.Training.MinTotalDuration,
		MaxFiles:            s.config.Training.MaxFiles,
		EnableQualityFilter: c.PostForm("quality_filter") == "true",
		EnableConditioning:  true,
	}, nil)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondSuccess(c, http.StatusOK, gin.H{
		"voice_id":   voiceID,
		"session_id": sessionID,
		"status":     string(voice.StatusProcessing),
	}, fmt.Sprintf("voice cloning for %q started", name))
}

func saveUpload(header *multipart.FileHeader, dst string) error {
	src, err := header.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = out.ReadFrom(src)
	return err
}

type generateRequest struct {
	Text        string  `json:"text"`
	VoiceID     string  `json:"voice_id"`
	Language    string  `json:"language"`
	Speed       float64 `json:"speed"`
	Temperature float64 `json:"temperature"`
}

func (s *Service) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.Speed == 0 {
		req.Speed = 1.0
	}
	if req.Temperature == 0 {
		req.Temperature = 0.7
	}
	if req.VoiceID == "" {
		req.VoiceID = "default"
	}

	text := strings.TrimSpace(req.Text)
	if len(text) < 1 || len(text) > 5000 {
		RespondError(c, http.StatusBadRequest, "text must be between 1 and 5000 characters", nil)
		return
	}
	if req.Speed < 0.5 || req.Speed > 2.0 {
		RespondError(c, http.StatusBadRequest, "speed must be between 0.5 and 2.0", nil)
		return
	}
	if req.Temperature < 0.1 || req.Temperature > 1.0 {
		RespondError(c, http.StatusBadRequest, "temperature must be between 0.1 and 1.0", nil)
		return
	}

	path, err := s.synth.Generate(c.Request.Context(), synthesis.Request{
		Text:        text,
		VoiceID:     req.VoiceID,
		Language:    req.Language,
		Speed:       req.Speed,
		Temperature: req.Temperature,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	filename := filepath.Base(path)
	RespondSuccess(c, http.StatusOK, gin.H{
		"audio_url": "/outputs/" + filename,
		"filename":  filename,
	}, "")
}

func (s *Service) handleLanguages(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, gin.H{"languages": s.synth.Languages()}, "")
}

func (s *Service) handleTrainingProgress(c *gin.Context) {
	session, ok := s.orchestrator.GetProgress(c.Param("session_id"))
	if !ok {
		RespondError(c, http.StatusNotFound, "training session not found", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, session, "")
}
