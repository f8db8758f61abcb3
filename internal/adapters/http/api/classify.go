package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	service "github.com/okian/ecovision/internal/app"
	"github.com/okian/ecovision/internal/domain/model"
)

const (
	defaultMaxUpload = 10 << 20
	imageField       = "image"
)

// Classifier runs the inference pipeline on one sample.
type Classifier interface {
	Process(ctx context.Context, sample model.InputSample) (model.InferenceResult, error)
}

// ClassifyHandler handles image uploads.
type ClassifyHandler struct {
	deps      Classifier
	maxUpload int64
	now       func() time.Time
}

// NewClassifyHandler creates a new classify handler.
func NewClassifyHandler(deps Classifier, maxUpload int64) *ClassifyHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &ClassifyHandler{deps: deps, maxUpload: maxUpload, now: time.Now}
}

type classifyResponse struct {
	SampleID string `json:"sample_id"`
	model.InferenceResult
}

// HandleClassify handles POST /v1/classify. The image comes either as the
// multipart field "image" or as a raw body with an image/* content type.
// lat and lon are read from form values or the query string.
func (h *ClassifyHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	const op = "api.classify"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	data, err := h.readImage(r)
	if err != nil {
		status, code := http.StatusBadRequest, "bad_request"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status, code = http.StatusRequestEntityTooLarge, "too_large"
		}
		writeError(w, status, code, WrapKind(op, ErrBadRequest, err))
		return
	}

	loc, err := parseLocation(r.FormValue("lat"), r.FormValue("lon"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	sample := model.InputSample{
		ID:         uuid.NewString(),
		Data:       data,
		Format:     model.FormatEncoded,
		CapturedAt: h.now(),
		Location:   loc,
	}
	result, err := h.deps.Process(r.Context(), sample)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, classifyResponse{SampleID: sample.ID, InferenceResult: result})
	case errors.Is(err, service.ErrPreprocess):
		writeError(w, http.StatusUnprocessableEntity, "unprocessable", WrapKind(op, ErrUnprocessable, err))
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "inference_failed", WrapKind(op, ErrInternal, err))
	}
}

func (h *ClassifyHandler) readImage(r *http.Request) ([]byte, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("content type: %w", err)
	}

	var data []byte
	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			return nil, err
		}
		f, _, err := r.FormFile(imageField)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", imageField, err)
		}
		defer f.Close()
		if data, err = io.ReadAll(f); err != nil {
			return nil, err
		}
	case strings.HasPrefix(mediaType, "image/"):
		if data, err = io.ReadAll(r.Body); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}

	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}

// parseLocation returns nil when neither coordinate is given.
func parseLocation(lat, lon string) (*model.GeoPoint, error) {
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, errors.New("lat and lon must be given together")
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil || la < -90 || la > 90 {
		return nil, fmt.Errorf("invalid lat %q", lat)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil || lo < -180 || lo > 180 {
		return nil, fmt.Errorf("invalid lon %q", lon)
	}
	return &model.GeoPoint{Lat: la, Lon: lo}, nil
}
