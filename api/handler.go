// Package api serves a small operations API next to the bot.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"fetchbot/task"

	"github.com/gin-gonic/gin"
)

// TaskService is the part of the task engine exposed over HTTP.
type TaskService interface {
	Tasks(ctx context.Context, chat task.ChatID) ([]task.State, error)
	Running() []task.TaskID
	Cancel(id task.TaskID) bool
}

type Handler struct {
	svc TaskService
}

func NewHandler(svc TaskService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) handleListChatTasks(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chatId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return
	}

	states, err := h.svc.Tasks(c.Request.Context(), task.ChatID(chatID))
	if err != nil {
		slog.Error("Failed to list tasks", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tasks"})
		return
	}
	if states == nil {
		states = []task.State{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": states})
}

func (h *Handler) handleListRunning(c *gin.Context) {
	ids := h.svc.Running()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	c.JSON(http.StatusOK, gin.H{"running": out})
}

func (h *Handler) handleCancelTask(c *gin.Context) {
	id, err := task.ParseTaskID(c.Param("taskId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task ID"})
		return
	}

	if !h.svc.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not running"})
		return
	}
	slog.Info("Task cancelled over API", "task_id", id.String())
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested", "taskId": id.String()})
}
