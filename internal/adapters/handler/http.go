package handler

import (
	"errors"
	"fmt"
	"imgmerge/internal/core/domain"
	"imgmerge/internal/core/port"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	ServiceName    = "Image Merger API"
	ServiceVersion = "1.0.0"
	outputsRoute   = "/outputs"
)

type Config struct {
	// PublicURL is prepended to result links, e.g. https://merge.example.com. Empty keeps links relative.
	PublicURL      string
	DefaultHeight  int
	MinHeight      int
	MaxHeight      int
	MaxUploadBytes int64
	DefaultMaxAge  time.Duration
}

type HTTP struct {
	merger  port.Merger
	uploads port.UploadStore
	outputs port.FileStore
	fetcher port.SourceFetcher
	cleaner port.Cleaner
	cfg     Config
}

func NewHTTP(merger port.Merger, uploads port.UploadStore, outputs port.FileStore, fetcher port.SourceFetcher, cleaner port.Cleaner,
	cfg Config) *HTTP {
	return &HTTP{merger: merger, uploads: uploads, outputs: outputs, fetcher: fetcher, cleaner: cleaner, cfg: cfg}
}

type dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type output struct {
	URL        string     `json:"url"`
	Filename   string     `json:"filename"`
	Dimensions dimensions `json:"dimensions"`
	Format     string     `json:"format"`
}

type mergeResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Output    output `json:"output"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type mergeJSONRequest struct {
	ModelImage   string `json:"model_image"`
	ProductImage string `json:"product_image"`
	TargetHeight *int   `json:"target_height"`
	OutputFormat string `json:"output_format"`
}

func (h *HTTP) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": ServiceName,
		"version": ServiceVersion,
		"endpoints": gin.H{
			"POST /merge":             "Merge two uploaded images",
			"POST /merge-json":        "Merge two images given as base64, data URIs or URLs",
			"GET /outputs/{filename}": "Fetch a merged image",
			"DELETE /cleanup":         "Remove old files",
			"GET /health":             "Health check",
		},
	})
}

func (h *HTTP) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": now()})
}

// Merge handles multipart uploads with model_image and product_image file fields.
func (h *HTTP) Merge(c *gin.Context) {
	format, err := domain.ParseFormat(c.DefaultPostForm("output_format", string(domain.DefaultOutputFormat)))
	if err != nil {
		h.fail(c, err)
		return
	}

	height, err := h.parseHeight(c.PostForm("target_height"))
	if err != nil {
		h.fail(c, err)
		return
	}

	model, release, err := h.readUpload(c, "model_image")
	if err != nil {
		h.fail(c, err)
		return
	}
	defer release()

	product, release, err := h.readUpload(c, "product_image")
	if err != nil {
		h.fail(c, err)
		return
	}
	defer release()

	h.mergeAndRespond(c, domain.MergeRequest{
		ModelImage:   model,
		ProductImage: product,
		TargetHeight: domain.Pixels(height),
		Format:       format,
	})
}

// MergeJSON handles JSON bodies whose images are data URIs, base64 payloads or URLs.
func (h *HTTP) MergeJSON(c *gin.Context) {
	ctx := c.Request.Context()

	var req mergeJSONRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(fmt.Errorf("invalid JSON body: %w", err)))
		return
	}

	if req.OutputFormat == "" {
		req.OutputFormat = string(domain.DefaultOutputFormat)
	}

	format, err := domain.ParseFormat(req.OutputFormat)
	if err != nil {
		h.fail(c, err)
		return
	}

	height := h.cfg.DefaultHeight
	if req.TargetHeight != nil {
		height = *req.TargetHeight
	}

	if err := h.checkHeight(height); err != nil {
		h.fail(c, err)
		return
	}

	sources := []struct {
		field string
		value string
		data  []byte
	}{{field: "model_image", value: req.ModelImage}, {field: "product_image", value: req.ProductImage}}

	for i := range sources {
		if sources[i].value == "" {
			h.fail(c, badRequest(fmt.Errorf("%s is required", sources[i].field)))
			return
		}

		sources[i].data, err = h.fetcher.Fetch(ctx, sources[i].value)
		if err != nil {
			h.fail(c, fmt.Errorf("%s: %w", sources[i].field, err))
			return
		}
	}

	h.mergeAndRespond(c, domain.MergeRequest{
		ModelImage:   sources[0].data,
		ProductImage: sources[1].data,
		TargetHeight: domain.Pixels(height),
		Format:       format,
	})
}

func (h *HTTP) Output(c *gin.Context) {
	path, err := h.outputs.Path(c.Param("filename"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.File(path)
}

func (h *HTTP) Cleanup(c *gin.Context) {
	maxAge := h.cfg.DefaultMaxAge
	if raw := c.Query("max_age_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 0 {
			h.fail(c, badRequest(fmt.Errorf("max_age_hours must be a non-negative integer, got %q", raw)))
			return
		}
		maxAge = time.Duration(hours) * time.Hour
	}

	removed, err := h.cleaner.SweepNow(c.Request.Context(), maxAge)
	if err != nil {
		h.fail(c, fmt.Errorf("cleanup failed: %w", err))
		return
	}

	body := gin.H{"success": true}
	for name, n := range removed {
		body["cleaned_"+name] = n
	}

	c.JSON(http.StatusOK, body)
}

func (h *HTTP) mergeAndRespond(c *gin.Context, req domain.MergeRequest) {
	result, err := h.merger.MergeAndStore(c.Request.Context(), req)
	if err != nil {
		h.fail(c, fmt.Errorf("failed to merge images: %w", err))
		return
	}

	c.JSON(http.StatusOK, mergeResponse{
		Success: true,
		Message: "Images merged successfully",
		Output: output{
			URL:      h.outputURL(result.Filename),
			Filename: result.Filename,
			Dimensions: dimensions{
				Width:  result.Dimensions.Width,
				Height: result.Dimensions.Height,
			},
			Format: result.Format.String(),
		},
		Timestamp: now(),
	})
}

// readUpload streams a multipart file field into the uploads store and reads it back from there. The spooled file
// stays until release is called; files of requests that never finish are left to the janitor.
func (h *HTTP) readUpload(c *gin.Context, field string) ([]byte, func(), error) {
	ctx := c.Request.Context()

	fh, err := c.FormFile(field)
	if err != nil {
		if tooLarge(err) {
			return nil, nil, err
		}
		return nil, nil, badRequest(fmt.Errorf("%s is required", field))
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", field, err)
	}
	defer f.Close()

	name, err := h.uploads.Put(ctx, f, uploadExtension(fh.Filename))
	if err != nil {
		return nil, nil, fmt.Errorf("storing %s: %w", field, err)
	}
	release := func() { h.uploads.Remove(name) }

	data, err := h.uploads.Get(name)
	if err != nil {
		release()
		// a spooled file that vanished is a server fault, not a missing resource
		return nil, nil, fmt.Errorf("reading spooled %s: %v", field, err)
	}

	log.Ctx(ctx).Debug().Str("field", field).Str("upload", name).Int("bytes", len(data)).Msg("spooled upload")

	return data, release, nil
}

func (h *HTTP) parseHeight(raw string) (int, error) {
	if raw == "" {
		return h.cfg.DefaultHeight, h.checkHeight(h.cfg.DefaultHeight)
	}

	height, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: target_height must be an integer, got %q", domain.ErrInvalidDimension, raw)
	}

	return height, h.checkHeight(height)
}

func (h *HTTP) checkHeight(height int) error {
	if height < h.cfg.MinHeight || height > h.cfg.MaxHeight {
		return fmt.Errorf("%w: target_height must be between %d and %d", domain.ErrInvalidDimension,
			h.cfg.MinHeight, h.cfg.MaxHeight)
	}

	return nil
}

func (h *HTTP) outputURL(filename string) string {
	path := outputsRoute + "/" + filename
	if h.cfg.PublicURL == "" {
		return path
	}

	return strings.TrimRight(h.cfg.PublicURL, "/") + path
}

func (h *HTTP) fail(c *gin.Context, err error) {
	status := statusFor(err)

	l := log.Ctx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		l.Info().Err(err).Int("status", status).Msg("request rejected")
	}

	c.AbortWithStatusJSON(status, errorResponse{Success: false, Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

type requestError struct {
	err error
}

func (e requestError) Error() string { return e.err.Error() }

func (e requestError) Unwrap() []error { return []error{e.err, errBadRequest} }

func badRequest(err error) error {
	return requestError{err: err}
}

func statusFor(err error) int {
	switch {
	case tooLarge(err):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidDimension),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrDecodeFailure),
		errors.Is(err, domain.ErrInvalidSource):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func tooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func uploadExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 6 || strings.ContainsAny(ext, `/\`) {
		return ""
	}

	return ext
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
