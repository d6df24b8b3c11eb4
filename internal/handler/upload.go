package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat_relay/internal/config"
	"chat_relay/pkg/logger"
)

type UploadHandler struct {
	cfg config.UploadConfig
	log logger.Logger
}

func NewUploadHandler(cfg config.UploadConfig, log logger.Logger) *UploadHandler {
	return &UploadHandler{cfg: cfg, log: log}
}

// Upload сохраняет файл на диск и возвращает URL и mime-тип; relay
// хранит в сообщении только эти две строки
func (h *UploadHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	if file.Size > h.cfg.MaxSizeMB*1024*1024 {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d MB", h.cfg.MaxSizeMB)})
		return
	}

	ext := filepath.Ext(file.Filename)
	name := uuid.NewString() + ext
	dst := filepath.Join(h.cfg.Dir, name)

	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.log.Error("Failed to save uploaded file", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
		return
	}

	fileType := file.Header.Get("Content-Type")
	if fileType == "" {
		fileType = "application/octet-stream"
	}

	c.JSON(http.StatusCreated, gin.H{
		"fileUrl":  strings.TrimRight(h.cfg.PublicPath, "/") + "/" + name,
		"fileType": fileType,
	})
}
