package record

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/calderaware/refinery/internal/deeplink"
	"github.com/calderaware/refinery/internal/dto"
	"github.com/calderaware/refinery/internal/lifecycle"
	"github.com/calderaware/refinery/internal/photo"
	"github.com/calderaware/refinery/internal/presentation/http/response"
	service "github.com/calderaware/refinery/internal/service/record"
	"github.com/calderaware/refinery/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/calderaware/refinery/transport/http/record")

// Handler exposes restoration record endpoints over HTTP.
type Handler struct {
	svc   *service.Service
	links *deeplink.Synchronizer
}

// NewHandler constructs a record Handler.
func NewHandler(svc *service.Service, links *deeplink.Synchronizer) *Handler {
	return &Handler{svc: svc, links: links}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/records")
	g.GET("", h.list)
	g.GET("/:id", h.getByID)
	g.PATCH("/:id", h.updateFields)
	g.POST("/:id/transition", h.transition)
	g.POST("/:id/revert", h.revert)
	g.POST("/:id/damage", h.damage)
	g.POST("/:id/resolve", h.resolve)
	g.POST("/:id/photos", h.uploadPhotos)
	g.DELETE("/:id/photos", h.deletePhoto)
	g.POST("/:id/open", h.open)
	g.POST("/close", h.close)
}

// list returns records inside an optional created-at window. When the
// request carries the shareable `open` identifier, the deep-link
// synchronizer consumes it and the auto-opened record id is echoed in meta.
func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	from, err := parseTimeParam(c.QueryParam("from"))
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid from timestamp", errorbank.WithCause(err))).Build()
	}
	to, err := parseTimeParam(c.QueryParam("to"))
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid to timestamp", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "records.list")
	defer span.End()

	records, err := h.svc.List(ctx, from, to)
	if err != nil {
		return b.WithError(err).Build()
	}

	if linkID := c.QueryParam("open"); linkID != "" {
		opened, err := h.links.SyncFromLink(ctx, linkID)
		if err != nil {
			return b.WithError(err).Build()
		}
		b.WithMeta("open", opened)
	}

	out := make([]dto.RecordResponse, 0, len(records))
	for i := range records {
		out = append(out, dto.NewRecordResponse(&records[i]))
	}
	return b.WithData(out).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "records.getByID", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewRecordResponse(rec)).Build()
}

func (h *Handler) updateFields(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	var payload struct {
		Notes       *string   `json:"notes"`
		TagNumbers  *[]string `json:"tag_numbers"`
		LocalPickup *bool     `json:"local_pickup"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "records.updateFields", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := h.svc.UpdateFields(ctx, id, service.FieldPatch{
		Notes:       payload.Notes,
		TagNumbers:  payload.TagNumbers,
		LocalPickup: payload.LocalPickup,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewRecordResponse(rec)).Build()
}

func (h *Handler) transition(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	var payload struct {
		Target     string    `json:"target"`
		Notes      *string   `json:"notes"`
		TagNumbers *[]string `json:"tag_numbers"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	target, err := lifecycle.ParseStatus(payload.Target)
	if err != nil {
		return b.WithError(errorbank.BadRequest(err.Error())).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "records.transition", trace.WithAttributes(
		attribute.String("record.id", id),
		attribute.String("record.target", payload.Target),
	))
	defer span.End()

	rec, err := h.svc.Advance(ctx, id, target, service.FieldPatch{
		Notes:      payload.Notes,
		TagNumbers: payload.TagNumbers,
	})
	if err != nil {
		return h.buildMutationError(b, err)
	}
	return b.WithData(dto.NewRecordResponse(rec)).Build()
}

func (h *Handler) revert(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	var payload struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "records.revert", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := h.svc.Revert(ctx, id, payload.Reason)
	if err != nil {
		return h.buildMutationError(b, err)
	}
	return b.WithData(dto.NewRecordResponse(rec)).Build()
}

func (h *Handler) damage(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	var payload struct {
		Reason string  `json:"reason"`
		Notes  *string `json:"notes"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	reason, err := lifecycle.ParseDamageReason(payload.Reason)
	if err != nil {
		return b.WithError(errorbank.BadRequest(err.Error())).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "records.damage", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := h.svc.MarkDamaged(ctx, id, reason, service.FieldPatch{Notes: payload.Notes})
	if err != nil {
		return h.buildMutationError(b, err)
	}
	return b.WithData(dto.NewRecordResponse(rec)).Build()
}

func (h *Handler) resolve(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "records.resolve", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := h.svc.ResolveDamaged(ctx, id)
	if err != nil {
		return h.buildMutationError(b, err)
	}
	return b.WithData(dto.NewRecordResponse(rec)).Build()
}

func (h *Handler) uploadPhotos(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	form, err := c.MultipartForm()
	if err != nil {
		return b.WithError(errorbank.BadRequest("multipart form required", errorbank.WithCause(err))).Build()
	}
	headers := form.File["photos"]
	if len(headers) == 0 {
		return b.WithError(errorbank.BadRequest("no photos submitted")).Build()
	}

	files := make([]photo.File, 0, len(headers))
	for _, hdr := range headers {
		src, err := hdr.Open()
		if err != nil {
			return b.WithError(errorbank.BadRequest("unreadable upload", errorbank.WithCause(err))).Build()
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			return b.WithError(errorbank.BadRequest("unreadable upload", errorbank.WithCause(err))).Build()
		}
		files = append(files, photo.File{
			Name:        hdr.Filename,
			Data:        data,
			ContentType: hdr.Header.Get("Content-Type"),
		})
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "records.uploadPhotos", trace.WithAttributes(
		attribute.String("record.id", id),
		attribute.Int("photo.files", len(files)),
	))
	defer span.End()

	refs, err := h.svc.AttachPhotos(ctx, id, files)
	if err != nil {
		return b.WithError(err).Build()
	}
	if refs == nil {
		refs = []string{}
	}
	return b.WithStatus(http.StatusCreated).WithData(refs).Build()
}

func (h *Handler) deletePhoto(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ref := c.QueryParam("ref")
	if ref == "" {
		return b.WithError(errorbank.BadRequest("photo ref is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "records.deletePhoto", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := h.svc.RemovePhoto(ctx, id, ref)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewRecordResponse(rec)).Build()
}

func (h *Handler) open(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "records.open", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	if _, err := h.svc.Get(ctx, id); err != nil {
		return b.WithError(err).Build()
	}
	h.links.OpenByUser(id)
	return b.WithMeta("open", id).Build()
}

func (h *Handler) close(c echo.Context) error {
	b := response.New(c)

	_, span := httpTracer.Start(c.Request().Context(), "records.close")
	defer span.End()

	h.links.Close()
	return b.WithMeta("open", "").Build()
}

// buildMutationError hides duplicate submits: a mutation rejected because
// one is already in flight is acknowledged and ignored, not surfaced.
func (h *Handler) buildMutationError(b *response.Builder, err error) error {
	if errors.Is(err, service.ErrMutationInFlight) {
		return b.WithStatus(http.StatusAccepted).WithMeta("ignored", true).Build()
	}
	return b.WithError(err).Build()
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
