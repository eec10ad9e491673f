package api

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/youtube"
)

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

type createTaskRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

// CreateTask starts a background download.
func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	_ = c.ShouldBindJSON(&req)
	if req.URL == "" {
		fail(c, http.StatusBadRequest, "url is required")
		return
	}
	if req.Quality == "" {
		req.Quality = h.deps.DefaultQuality
	}

	id, err := h.deps.Tasks.Create(c.Request.Context(), req.URL, req.Quality)
	if err != nil {
		h.logger.Error("failed to create task", zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task_id": id})
}

// GetTask reports the state of a download.
func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.deps.Tasks.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, youtube.ErrTaskNotFound) {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	switch task.Status {
	case youtube.StatusPending, youtube.StatusRunning:
		c.JSON(http.StatusOK, gin.H{"success": true, "status": task.Status, "progress": task.Progress})
		return
	case youtube.StatusError:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "status": youtube.StatusError, "error": task.Error})
		return
	}

	result := task.Result
	if result == nil {
		result = &youtube.VideoMeta{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"status":     youtube.StatusFinished,
		"progress":   100,
		"video_id":   result.VideoID,
		"title":      result.Title,
		"video_path": result.VideoPath,
		"filesize":   result.FileSize,
		"duration":   result.Duration,
		"thumbnail":  result.Thumbnail,
		"audio_path": result.AudioPath,
		"audio_size": result.AudioSize,
	})
}

// Download sends a downloaded video or audio file as an attachment.
func (h *Handler) Download(c *gin.Context) {
	id := c.Query("id")
	kind := c.DefaultQuery("type", youtube.KindVideo)
	if id == "" {
		fail(c, http.StatusBadRequest, "id is required")
		return
	}

	path, err := h.deps.Files.ResolveFile(id, kind)
	var notInMeta *youtube.PathNotInMetaError
	switch {
	case err == nil:
	case errors.Is(err, youtube.ErrInvalidKind):
		fail(c, http.StatusBadRequest, "invalid type")
		return
	case errors.Is(err, youtube.ErrMetaNotFound):
		fail(c, http.StatusNotFound, "not found")
		return
	case errors.As(err, &notInMeta):
		fail(c, http.StatusNotFound, notInMeta.Error())
		return
	case errors.Is(err, youtube.ErrFileNotExists):
		fail(c, http.StatusNotFound, "file not exists")
		return
	default:
		h.logger.Error("failed to resolve download", zap.String("id", id), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.FileAttachment(path, filepath.Base(path))
}
