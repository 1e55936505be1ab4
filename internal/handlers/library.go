package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"phototree/internal/library"
	"phototree/internal/models"
	"phototree/internal/pagination"
	"phototree/internal/utils"
)

const defaultImagePageSize = 100

// LibraryHandler exposes album operations of the library engine
type LibraryHandler struct {
	engine *library.Engine
}

// NewLibraryHandler creates a new album handler
func NewLibraryHandler(engine *library.Engine) *LibraryHandler {
	return &LibraryHandler{engine: engine}
}

// RenameRequest is the body of a rename-many request
type RenameRequest struct {
	Match   string `json:"match"`
	Replace string `json:"replace"`
}

// MoveRequest is the body of a move-many request
type MoveRequest struct {
	IDs           []int64 `json:"ids"`
	DestinationID int64   `json:"destinationId"`
}

// RegisterRoutes mounts the album and image routes. syncLimiter guards
// the endpoints that walk the disk.
func RegisterRoutes(router fiber.Router, engine *library.Engine, syncLimiter fiber.Handler) {
	albums := NewLibraryHandler(engine)
	images := NewImageHandler(engine)

	api := router.Group("/api")
	api.Get("/albums/root", albums.GetRootAlbums)
	api.Post("/albums/sync", syncLimiter, albums.SyncRoot)
	api.Get("/albums/:id", albums.GetAlbum)
	api.Put("/albums/:id", albums.UpdateAlbum)
	api.Delete("/albums/:id", albums.DeleteAlbum)
	api.Post("/albums/:id/sync", syncLimiter, albums.SyncAlbum)
	api.Get("/albums/:id/albums", albums.GetChildAlbums)
	api.Get("/albums/:id/images", albums.GetAlbumImages)
	api.Post("/albums/:id/:kind/rename", albums.RenameChildren)
	api.Post("/albums/:id/:kind/move", albums.MoveChildren)

	api.Get("/images/:id", images.GetImage)
	api.Put("/images/:id", images.UpdateImage)
	api.Delete("/images/:id", images.DeleteImage)
}

func parseID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// GetRootAlbums returns the live albums directly under the library root
func (h *LibraryHandler) GetRootAlbums(c *fiber.Ctx) error {
	albums, err := h.engine.Store().RootAlbums(c.UserContext())
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(fiber.Map{"data": nonNil(albums)})
}

// SyncRoot reconciles the library root
func (h *LibraryHandler) SyncRoot(c *fiber.Ctx) error {
	result, err := h.engine.ReconcileRoot(c.UserContext())
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(result)
}

// GetAlbum returns an album with its breadcrumb and sibling navigation
func (h *LibraryHandler) GetAlbum(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid album ID")
	}

	albumContext, err := h.engine.AlbumContext(c.UserContext(), id)
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(albumContext)
}

// UpdateAlbum applies a partial update
func (h *LibraryHandler) UpdateAlbum(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid album ID")
	}

	var changes library.AlbumChanges
	if err := c.BodyParser(&changes); err != nil {
		return utils.SendError(c, http.StatusBadRequest, "Invalid request body")
	}

	album, err := h.engine.UpdateAlbum(c.UserContext(), id, changes)
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(album)
}

// DeleteAlbum removes an empty album and its directory
func (h *LibraryHandler) DeleteAlbum(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid album ID")
	}

	if err := h.engine.DeleteAlbum(c.UserContext(), id); err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// SyncAlbum reconciles one album directory
func (h *LibraryHandler) SyncAlbum(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid album ID")
	}

	var (
		result *library.SyncResult
		err    error
	)
	if c.QueryBool("recursive") {
		result, err = h.engine.ReconcileTree(c.UserContext(), id)
	} else {
		result, err = h.engine.ReconcileDirectory(c.UserContext(), id)
	}
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(result)
}

// GetChildAlbums lists the live child albums
func (h *LibraryHandler) GetChildAlbums(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid album ID")
	}

	ctx := c.UserContext()
	if _, err := h.engine.Store().GetAlbumByID(ctx, id); err != nil {
		return utils.SendLibraryError(c, err)
	}
	albums, err := h.engine.Store().ChildAlbums(ctx, id)
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(fiber.Map{"data": nonNil(albums)})
}

// GetAlbumImages lists one page of the live images of an album
func (h *LibraryHandler) GetAlbumImages(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid album ID")
	}

	ctx := c.UserContext()
	if _, err := h.engine.Store().GetAlbumByID(ctx, id); err != nil {
		return utils.SendLibraryError(c, err)
	}
	page, pageSize := pagination.GetPaginationParams(c, 1, defaultImagePageSize)
	images, total, err := h.engine.Store().ImagesPage(ctx, id, pagination.CalculateOffset(page, pageSize), pageSize)
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(fiber.Map{
		"data": nonNil(images),
		"meta": pagination.Calculate(total, page, pageSize),
	})
}

// RenameChildren renames child albums or images by pattern
func (h *LibraryHandler) RenameChildren(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid album ID")
	}
	kind, err := library.ParseItemKind(c.Params("kind"))
	if err != nil {
		return utils.SendNotFoundError(c, "Route")
	}

	var req RenameRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, http.StatusBadRequest, "Invalid request body")
	}
	if req.Match == "" {
		return utils.SendValidationError(c, "match", "is required")
	}

	result, err := h.engine.RenameMany(c.UserContext(), id, kind, req.Match, req.Replace)
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(result)
}

// MoveChildren moves child albums or images into another album
func (h *LibraryHandler) MoveChildren(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return utils.SendError(c, http.StatusBadRequest, "Invalid album ID")
	}
	kind, err := library.ParseItemKind(c.Params("kind"))
	if err != nil {
		return utils.SendNotFoundError(c, "Route")
	}

	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, http.StatusBadRequest, "Invalid request body")
	}
	if len(req.IDs) == 0 {
		return utils.SendValidationError(c, "ids", "is required")
	}
	if req.DestinationID < 1 {
		return utils.SendValidationError(c, "destinationId", "is required")
	}

	result, err := h.engine.MoveMany(c.UserContext(), kind, req.IDs, id, req.DestinationID)
	if err != nil {
		return utils.SendLibraryError(c, err)
	}
	return c.JSON(result)
}

func nonNil[T models.Album | models.Image](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
