package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/lifecycle"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	// multipart framing allowance on top of the document ceiling
	uploadOverhead = 1 << 20
)

type handlers struct {
	svc            ParseService
	exp            Exporter
	streamInterval time.Duration
	logger         *slog.Logger
}

type submitResponse struct {
	ID     uuid.UUID             `json:"id"`
	Status constants.ParseStatus `json:"status"`
}

type reviewRequest struct {
	Fields entity.ContractFields `json:"fields"`
}

// submit handles POST /parses (multipart field "file").
func (h *handlers) submit(c *gin.Context) {
	name, data, err := readUpload(c, true)
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := h.svc.Submit(c.Request.Context(), lifecycle.SubmitRequest{
		OwnerID:  GetOwnerID(c),
		FileName: name,
		Data:     data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitResponse{ID: p.ID, Status: p.Status})
}

func (h *handlers) list(c *gin.Context) {
	var statuses []constants.ParseStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := constants.ParseStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !st.Valid() {
				writeError(c, common.InvalidInputErrorf("unknown status %q", s))
				return
			}
			statuses = append(statuses, st)
		}
	}
	limit, err := intQuery(c, "limit", defaultListLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		writeError(c, err)
		return
	}

	parses, err := h.svc.List(c.Request.Context(), GetOwnerID(c), statuses, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	if parses == nil {
		parses = []*entity.Parse{}
	}
	c.JSON(http.StatusOK, gin.H{"parses": parses, "limit": limit, "offset": offset})
}

func (h *handlers) get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.svc.Get(c.Request.Context(), GetOwnerID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) status(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	v, err := h.svc.Status(c.Request.Context(), GetOwnerID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handlers) progress(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	u, found, err := h.svc.Progress(c.Request.Context(), GetOwnerID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, common.NotFoundError("no progress recorded"))
		return
	}
	c.JSON(http.StatusOK, u)
}

// streamProgress pushes progress updates as server-sent events until the run finishes
// or the client goes away.
func (h *handlers) streamProgress(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	updates, err := h.svc.WatchProgress(c.Request.Context(), GetOwnerID(c), id, h.streamInterval)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		u, ok := <-updates
		if !ok {
			return false
		}
		c.SSEvent("progress", u)
		return !u.Done
	})
}

func (h *handlers) cleanup(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.svc.Cleanup(c.Request.Context(), GetOwnerID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// retry handles POST /parses/:id/retry; a multipart "file" re-supplies the document.
func (h *handlers) retry(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	_, data, err := readUpload(c, false)
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := h.svc.Retry(c.Request.Context(), GetOwnerID(c), id, data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitResponse{ID: p.ID, Status: p.Status})
}

func (h *handlers) archive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.svc.Archive(c.Request.Context(), GetOwnerID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) review(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, common.InvalidInputError("invalid request body: "+err.Error()))
		return
	}
	p, err := h.svc.Review(c.Request.Context(), GetOwnerID(c), id, req.Fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) remove(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), GetOwnerID(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) preview(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		writeError(c, common.InvalidInputError("page must be a positive integer"))
		return
	}
	img, err := h.svc.Preview(c.Request.Context(), GetOwnerID(c), id, page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", img)
}

func (h *handlers) exportParses(c *gin.Context) {
	from, err := dateQuery(c, "from")
	if err != nil {
		writeError(c, err)
		return
	}
	to, err := dateQuery(c, "to")
	if err != nil {
		writeError(c, err)
		return
	}
	if from != nil && to != nil && to.Before(*from) {
		writeError(c, common.InvalidInputError("to must not be before from"))
		return
	}
	b, err := h.exp.ExportParsesXLSX(c.Request.Context(), GetOwnerID(c), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="parses.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", b)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, common.InvalidInputError("parse id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// readUpload reads the multipart "file" field. When required is false a missing file
// yields no data and no error.
func readUpload(c *gin.Context, required bool) (string, []byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxDocumentBytes+uploadOverhead)
	fh, err := c.FormFile("file")
	if err != nil {
		if !required && (errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart)) {
			return "", nil, nil
		}
		return "", nil, common.InvalidInputError("a multipart file field named \"file\" is required")
	}
	if fh.Size > constants.MaxDocumentBytes {
		return "", nil, common.InvalidInputErrorf("document exceeds the %d byte limit", constants.MaxDocumentBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, common.WrapError(err, "open upload")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, constants.MaxDocumentBytes+1))
	if err != nil {
		return "", nil, common.WrapError(err, "read upload")
	}
	return fh.Filename, data, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, common.InvalidInputErrorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func dateQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, common.InvalidInputErrorf("%s must be a date formatted YYYY-MM-DD", name)
	}
	return &t, nil
}
