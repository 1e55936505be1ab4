package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"phototree/internal/library"
	"phototree/internal/utils"
)

// ImageHandler exposes image operations of the library engine
type ImageHandler struct {
	engine *library.Engine
}

// NewImageHandler creates a new image handler
func NewImageHandler(engine *library.Engine) *ImageHandler {
	return &ImageHandler{engine: engine}
}

// GetImage returns an image with its album
func (h *ImageHandler) GetImage(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid image ID")
	}

	image, err := h.engine.Store().GetImageByID(c.UserContext(), id)
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(image)
}

// UpdateImage applies a partial update
func (h *ImageHandler) UpdateImage(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid image ID")
	}

	var changes library.ImageChanges
	if err := c.BodyParser(&changes); err != nil {
		return utils.SendError(c, http.StatusBadRequest, "Invalid request body")
	}

	image, err := h.engine.UpdateImage(c.UserContext(), id, changes)
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(image)
}

// DeleteImage removes an image file and its record
func (h *ImageHandler) DeleteImage(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid image ID")
	}

	if err := h.engine.DeleteImage(c.UserContext(), id); err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}
