package handler

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/dto"
	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/service"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
	"github.com/noah-isme/board-api/pkg/response"
)

// multipartOverhead is the allowance for form fields and boundaries on top of the file itself.
const multipartOverhead = 1 << 20

type announcementService interface {
	List(ctx context.Context) ([]models.Announcement, error)
	Get(ctx context.Context, id string) (*models.Announcement, error)
	Create(ctx context.Context, identity *models.SessionIdentity, req dto.CreateAnnouncementRequest, upload *service.Upload, meta service.AuditMeta) (*models.Announcement, error)
	Update(ctx context.Context, identity *models.SessionIdentity, id string, req dto.UpdateAnnouncementRequest, upload *service.Upload, meta service.AuditMeta) (*models.Announcement, error)
	Delete(ctx context.Context, identity *models.SessionIdentity, id string, meta service.AuditMeta) error
	DownloadAttachment(ctx context.Context, identity *models.SessionIdentity, id string) (*service.AttachmentDownload, error)
}

// AnnouncementHandler exposes announcement endpoints.
type AnnouncementHandler struct {
	service       announcementService
	apiPrefix     string
	maxUploadSize int64
}

// NewAnnouncementHandler constructs the handler. apiPrefix is used to build
// attachment download URLs.
func NewAnnouncementHandler(svc announcementService, apiPrefix string, maxUploadSize int64) *AnnouncementHandler {
	return &AnnouncementHandler{service: svc, apiPrefix: strings.TrimRight(apiPrefix, "/"), maxUploadSize: maxUploadSize}
}

// List godoc
// @Summary List announcements
// @Description Newest first. Anonymous callers only receive public announcements.
// @Tags Announcements
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /announcements [get]
func (h *AnnouncementHandler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	identity := identityFromContext(c)
	out := make([]dto.AnnouncementResponse, 0, len(items))
	for i := range items {
		if service.CanView(identity, &items[i]) {
			out = append(out, h.view(items[i]))
		}
	}
	response.JSON(c, http.StatusOK, out)
}

// Get godoc
// @Summary Get announcement
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id} [get]
func (h *AnnouncementHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !service.CanView(identityFromContext(c), item) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "announcement not found"))
		return
	}
	response.JSON(c, http.StatusOK, h.view(*item))
}

// Create godoc
// @Summary Create announcement
// @Description Accepts JSON, or multipart/form-data with an optional file part.
// @Tags Announcements
// @Accept json,mpfd
// @Produce json
// @Param title formData string true "Title"
// @Param body formData string true "Body"
// @Param is_public formData bool false "Visible to anonymous callers"
// @Param file formData file false "Attachment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /announcements [post]
func (h *AnnouncementHandler) Create(c *gin.Context) {
	var req dto.CreateAnnouncementRequest
	upload, closeUpload, err := h.bind(c, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeUpload()

	item, err := h.service.Create(c.Request.Context(), identityFromContext(c), req, upload, auditMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, h.view(*item))
}

// Update godoc
// @Summary Update announcement
// @Description Partial update by the owner or an administrator. A file part replaces the attachment.
// @Tags Announcements
// @Accept json,mpfd
// @Produce json
// @Param id path string true "Announcement ID"
// @Param title formData string false "Title"
// @Param body formData string false "Body"
// @Param is_public formData bool false "Visible to anonymous callers"
// @Param file formData file false "Replacement attachment"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id} [put]
func (h *AnnouncementHandler) Update(c *gin.Context) {
	var req dto.UpdateAnnouncementRequest
	upload, closeUpload, err := h.bind(c, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeUpload()

	item, err := h.service.Update(c.Request.Context(), identityFromContext(c), c.Param("id"), req, upload, auditMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.view(*item))
}

// Delete godoc
// @Summary Delete announcement
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id} [delete]
func (h *AnnouncementHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), identityFromContext(c), c.Param("id"), auditMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, nil, "announcement deleted")
}

// Download godoc
// @Summary Download attachment
// @Tags Announcements
// @Produce octet-stream
// @Param id path string true "Announcement ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id}/attachment [get]
func (h *AnnouncementHandler) Download(c *gin.Context) {
	result, err := h.service.DownloadAttachment(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.Body.Close() //nolint:errcheck

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename})
	if disposition == "" {
		disposition = "attachment"
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.DataFromReader(http.StatusOK, result.Size, result.ContentType, result.Body, map[string]string{
		"Content-Disposition": disposition,
	})
}

// bind decodes the request from JSON or multipart form data. The returned
// close function releases the uploaded file and is always safe to call.
func (h *AnnouncementHandler) bind(c *gin.Context, req interface{}) (*service.Upload, func(), error) {
	noop := func() {}
	if !isMultipart(c) {
		if err := c.ShouldBindJSON(req); err != nil {
			return nil, noop, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid announcement payload")
		}
		return nil, noop, nil
	}

	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}
	if err := c.ShouldBind(req); err != nil {
		return nil, noop, bindError(err)
	}

	header, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, noop, nil
		}
		return nil, noop, bindError(err)
	}
	file, err := header.Open()
	if err != nil {
		return nil, noop, appErrors.Wrap(err, appErrors.ErrIOFailure.Code, appErrors.ErrIOFailure.Status, "failed to open uploaded file")
	}
	return uploadFromHeader(header, file), func() { _ = file.Close() }, nil
}

func uploadFromHeader(header *multipart.FileHeader, file multipart.File) *service.Upload {
	return &service.Upload{
		Filename:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Content:     file,
	}
}

func bindError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return appErrors.Clone(appErrors.ErrPayloadTooLarge, "request body too large")
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid announcement form")
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

func (h *AnnouncementHandler) view(a models.Announcement) dto.AnnouncementResponse {
	return dto.NewAnnouncementResponse(a, service.OriginalName, h.downloadURL)
}

func (h *AnnouncementHandler) downloadURL(id string) string {
	return fmt.Sprintf("%s/announcements/%s/attachment", h.apiPrefix, id)
}
