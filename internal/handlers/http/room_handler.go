package http

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
	"codecollab/internal/core/services"
	"codecollab/pkg/cache"
	"codecollab/pkg/utils"
	"codecollab/pkg/validation"
)

// fileCacheTTL bounds staleness of file reads served from cache; saves
// invalidate eagerly so the TTL only matters for writes from other instances.
const fileCacheTTL = 10 * time.Second

type RoomHandler struct {
	rooms     ports.RoomRepository
	files     ports.FileRepository
	auth      services.AuthService
	assistant ports.Assistant // nil when no upstream is configured

	fileCache *cache.Cache
}

func NewRoomHandler(
	rooms ports.RoomRepository,
	files ports.FileRepository,
	auth services.AuthService,
	assistant ports.Assistant,
) *RoomHandler {
	return &RoomHandler{
		rooms:     rooms,
		files:     files,
		auth:      auth,
		assistant: assistant,
		fileCache: cache.NewCache(fileCacheTTL),
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms/:id", h.GetRoom)
		api.DELETE("/rooms/:id", h.DeleteRoom)
		api.POST("/rooms/:id/join", h.IssueJoinToken)

		api.GET("/rooms/:id/files", h.ListFiles)
		api.POST("/rooms/:id/files", h.CreateFile)
		api.GET("/rooms/:id/files/:fileId", h.GetFile)
		api.PUT("/rooms/:id/files/:fileId", h.UpdateFile)
		api.DELETE("/rooms/:id/files/:fileId", h.DeleteFile)

		api.POST("/assist", h.Assist)
	}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name  string        `json:"name" binding:"required,min=1,max=100"`
		Owner domain.UserID `json:"owner" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room := &domain.Room{
		ID:        domain.RoomID(utils.GenerateRoomID()),
		Name:      req.Name,
		OwnerID:   req.Owner,
		CreatedAt: time.Now(),
	}

	if err := h.rooms.Create(c.Request.Context(), room); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"room": room,
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	if err := validation.ValidateRoomID(string(roomID)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.GetByID(c.Request.Context(), roomID)
	if err != nil {
		if err == domain.ErrRoomNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": room,
	})
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	if err := h.rooms.Delete(c.Request.Context(), roomID); err != nil {
		if err == domain.ErrRoomNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.fileCache.Invalidate(string(roomID) + ":")
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// IssueJoinToken mints a short-lived token admitting one identity into the
// room's relay endpoint.
func (h *RoomHandler) IssueJoinToken(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	var req struct {
		UserID domain.UserID `json:"user_id" binding:"required"`
		Name   string        `json:"name" binding:"required,min=1,max=64"`
		Color  string        `json:"color"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateDisplayName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Color != "" {
		if err := validation.ValidateDisplayColor(req.Color); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if _, err := h.rooms.GetByID(c.Request.Context(), roomID); err != nil {
		if err == domain.ErrRoomNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := h.auth.GenerateJoinToken(roomID, req.UserID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
	})
}

func (h *RoomHandler) ListFiles(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	files, err := h.files.ListByRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files": files,
	})
}

func (h *RoomHandler) CreateFile(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	var req struct {
		Name     string `json:"name" binding:"required,min=1,max=255"`
		Language string `json:"language"`
		Content  string `json:"content"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateFileName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file := &domain.File{
		ID:       domain.FileID(utils.GenerateFileID()),
		RoomID:   roomID,
		Name:     req.Name,
		Language: req.Language,
		Content:  req.Content,
		SavedAt:  time.Now(),
	}

	if err := h.files.Save(c.Request.Context(), file); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"file": file,
	})
}

func (h *RoomHandler) GetFile(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	fileID := domain.FileID(c.Param("fileId"))

	cacheKey := fmt.Sprintf("%s:%s", roomID, fileID)
	if cached, ok := h.fileCache.Get(cacheKey); ok {
		c.JSON(http.StatusOK, gin.H{"file": cached})
		return
	}

	file, err := h.files.Load(c.Request.Context(), roomID, fileID)
	if err != nil {
		if err == domain.ErrFileNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.fileCache.Set(cacheKey, file)
	c.JSON(http.StatusOK, gin.H{
		"file": file,
	})
}

// UpdateFile overwrites a file's saved content. Metadata not carried in the
// request survives the save.
func (h *RoomHandler) UpdateFile(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	fileID := domain.FileID(c.Param("fileId"))

	var req struct {
		Content string `json:"content"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, err := h.files.Load(c.Request.Context(), roomID, fileID)
	if err != nil {
		if err == domain.ErrFileNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	file.Content = req.Content
	file.SavedAt = time.Now()
	if err := h.files.Save(c.Request.Context(), file); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.fileCache.Delete(fmt.Sprintf("%s:%s", roomID, fileID))
	c.JSON(http.StatusOK, gin.H{
		"file": file,
	})
}

func (h *RoomHandler) DeleteFile(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	fileID := domain.FileID(c.Param("fileId"))

	if err := h.files.Delete(c.Request.Context(), roomID, fileID); err != nil {
		if err == domain.ErrFileNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.fileCache.Delete(fmt.Sprintf("%s:%s", roomID, fileID))
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Assist proxies a prompt to the assistant upstream and streams the answer
// back. When the stream carries a trailing file action, it is forwarded as a
// final JSON line prefixed with a null byte so clients can split it from the
// prose.
func (h *RoomHandler) Assist(c *gin.Context) {
	if h.assistant == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "assistant not configured"})
		return
	}

	var req struct {
		Prompt   string `json:"prompt" binding:"required,min=1,max=8000"`
		FileName string `json:"fileName"`
		Content  string `json:"content"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chunks, err := h.assistant.SendPrompt(c.Request.Context(), req.Prompt, ports.FileContext{
		FileName: req.FileName,
		Content:  req.Content,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Transfer-Encoding", "chunked")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-chunks
		if !ok {
			return false
		}
		if chunk.Action != nil {
			fmt.Fprintf(w, "\x00{\"type\":%q,\"fileName\":%q,\"content\":%q}", chunk.Action.Type, chunk.Action.FileName, chunk.Action.Content)
			return true
		}
		io.WriteString(w, chunk.Text)
		return true
	})
}
