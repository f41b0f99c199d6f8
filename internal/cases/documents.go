package cases

import (
	"errors"
	"mime"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nvaldesp/estudio-backend/pkg/models"
)

// canAccessCase reports whether the actor may touch a case's documents:
// staff always, the client role only on their own case.
func (h *Handler) canAccessCase(cs *models.Case, actorID uuid.UUID, role models.Role) bool {
	if role.IsStaff() {
		return true
	}
	return role == models.RoleCliente && cs.ClientID == actorID
}

// Upload Case Documents godoc
// @Summary      Upload case documents (PDF/PNG/JPEG)
// @Description  Staff or the owning client uploads up to 10 files to storage
// @Tags         documentos
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id     path      string   true  "case id (uuid)"
// @Param        files  formData  []file   true  "PDF/PNG/JPEG (max 10)"
// @Success      201    {object}  map[string]any  "results"
// @Failure      400    {object}  models.ErrorResponse
// @Failure      403    {object}  models.ErrorResponse
// @Router       /cases/{id}/documentos [post]
func (h *Handler) UploadDocumento(c *fiber.Ctx) error {
	actor := actorFrom(c)
	caseID := c.Params("id")

	var cs models.Case
	if err := h.db.First(&cs, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if !h.canAccessCase(&cs, actor.ID, actor.Role) {
		return fiber.ErrForbidden
	}

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form required; use files[]")
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "files are required (use key: files[])")
	}
	if len(files) > 10 {
		return fiber.NewError(fiber.StatusBadRequest, "max 10 files allowed")
	}

	results := make([]fiber.Map, 0, len(files))

	for _, fh := range files {
		res := fiber.Map{
			"name": fh.Filename,
			"size": fh.Size,
		}

		// ---- Per-file validation
		if fh.Size <= 0 {
			res["error"] = "empty file"
			results = append(results, res)
			continue
		}
		if fh.Size > 10*1024*1024 {
			res["error"] = "max 10MB per file"
			results = append(results, res)
			continue
		}

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
		}
		switch ct {
		case "application/pdf", "image/png", "image/jpeg":
			// ok
		default:
			res["error"] = "only PDF, PNG or JPEG are allowed"
			results = append(results, res)
			continue
		}

		f, err := fh.Open()
		if err != nil {
			res["error"] = "open failed"
			results = append(results, res)
			continue
		}
		defer f.Close()

		// Unique object key to avoid collisions
		key := h.sb.MakeObjectKey(caseID, fh.Filename)

		if err := h.sb.Upload(key, f, ct, fh.Size); err != nil {
			res["error"] = "upload failed"
			results = append(results, res)
			continue
		}

		rec := models.CaseDocument{
			CaseID:       cs.ID,
			UploaderID:   actor.ID,
			Key:          key,
			Mime:         ct,
			Size:         int(fh.Size),
			OriginalName: fh.Filename,
		}
		if err := h.db.Create(&rec).Error; err != nil {
			res["error"] = "database error"
			results = append(results, res)
			continue
		}

		res["id"] = rec.ID
		res["key"] = rec.Key
		results = append(results, res)
	}

	// 201 even with partial failures; clients check the per-item "error" field
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"results": results})
}

// Signed Download URL godoc
// @Summary      Get signed URL
// @Description  Staff or the owning client obtains a short-lived signed URL
// @Tags         documentos
// @Security     BearerAuth
// @Produce      json
// @Param        docID  path string true "document id (uuid)"
// @Success      200  {object}  map[string]any  "url, expires_in, now"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documentos/{docID}/signed-url [get]
func (h *Handler) SignedDownloadURL(c *fiber.Ctx) error {
	actor := actorFrom(c)
	docID := c.Params("docID")

	var doc models.CaseDocument
	if err := h.db.Preload("Case").First(&doc, "id = ?", docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if !h.canAccessCase(&doc.Case, actor.ID, actor.Role) {
		return fiber.ErrForbidden
	}

	url, err := h.sb.SignedURL(doc.Key, 60) // seconds
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"url": url, "expires_in": 60, "now": time.Now().UTC()})
}

// Delete Document godoc
// @Summary      Delete document
// @Description  Staff removes a document; the storage object is deleted best-effort
// @Tags         documentos
// @Security     BearerAuth
// @Param        docID  path string true "document id (uuid)"
// @Success      204  "no content"
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documentos/{docID} [delete]
func (h *Handler) DeleteDocumento(c *fiber.Ctx) error {
	actor := actorFrom(c)
	if !actor.Role.IsStaff() {
		return fiber.ErrForbidden
	}
	docID := c.Params("docID")

	var doc models.CaseDocument
	if err := h.db.First(&doc, "id = ?", docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if err := h.db.Delete(&models.CaseDocument{}, "id = ?", doc.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if h.sb != nil {
		_ = h.sb.Delete(doc.Key)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
