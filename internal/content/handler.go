package content

import (
	"collab-session-server/internal/errors"
	"collab-session-server/internal/utils"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type CreateContentRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255"`
	Body  string `json:"body"`
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateContentRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID, _ := c.Get("user_id")

	content := &Content{
		Title: form.Title,
		Body:  form.Body,
	}

	if err := h.service.CreateContent(c.Request.Context(), userID.(uint64), content); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, content)
}

func (h *Handler) ShowUserContents(c *gin.Context) {
	userID, _ := c.Get("user_id")

	page, pageSize := utils.GetPaginationParams(c)
	contents, meta, err := h.service.ListOwnerContents(c.Request.Context(), userID.(uint64), page, pageSize)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": contents, "meta": meta})
}

func (h *Handler) ShowContent(c *gin.Context) {
	contentID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errors.BadRequest("Invalid content id", err))
		return
	}

	content, err := h.service.GetContent(c.Request.Context(), contentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, content)
}

func (h *Handler) ShowVersions(c *gin.Context) {
	contentID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errors.BadRequest("Invalid content id", err))
		return
	}

	versions, err := h.service.ListVersions(c.Request.Context(), contentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, versions)
}

func (h *Handler) DeleteContent(c *gin.Context) {
	contentID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errors.BadRequest("Invalid content id", err))
		return
	}

	userID, _ := c.Get("user_id")

	if err := h.service.DeleteContent(c.Request.Context(), contentID, userID.(uint64)); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
