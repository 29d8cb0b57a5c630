package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"imgmerge/internal/core/domain"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockMerger struct{ mock.Mock }

func (m *MockMerger) Merge(ctx context.Context, req domain.MergeRequest) (*domain.MergeResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.MergeResult)
	return res, args.Error(1)
}

func (m *MockMerger) MergeAndStore(ctx context.Context, req domain.MergeRequest) (*domain.StoredResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.StoredResult)
	return res, args.Error(1)
}

type MockStore struct {
	mock.Mock
	root string
}

func (m *MockStore) Save(ctx context.Context, data []byte, extension string) (string, error) {
	args := m.Called(ctx, data, extension)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, r io.Reader, extension string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	args := m.Called(ctx, data, extension)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Get(name string) ([]byte, error) {
	args := m.Called(name)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockStore) Path(name string) (string, error) {
	args := m.Called(name)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Remove(name string) {
	m.Called(name)
}

func (m *MockStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	args := m.Called(ctx, maxAge)
	return args.Int(0), args.Error(1)
}

type MockFetcher struct{ mock.Mock }

func (m *MockFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	args := m.Called(ctx, source)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type MockCleaner struct{ mock.Mock }

func (m *MockCleaner) SweepNow(ctx context.Context, maxAge time.Duration) (map[string]int, error) {
	args := m.Called(ctx, maxAge)
	res, _ := args.Get(0).(map[string]int)
	return res, args.Error(1)
}

type fixture struct {
	merger  *MockMerger
	uploads *MockStore
	outputs *MockStore
	fetcher *MockFetcher
	cleaner *MockCleaner
	router  *gin.Engine
}

var testConfig = Config{
	DefaultHeight:  1200,
	MinHeight:      100,
	MaxHeight:      5000,
	MaxUploadBytes: 1 << 20,
	DefaultMaxAge:  24 * time.Hour,
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		merger:  &MockMerger{},
		uploads: &MockStore{},
		outputs: &MockStore{},
		fetcher: &MockFetcher{},
		cleaner: &MockCleaner{},
	}
	f.router = NewRouter(NewHTTP(f.merger, f.uploads, f.outputs, f.fetcher, f.cleaner, cfg))
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()

	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	for field, data := range files {
		part, err := w.CreateFormFile(field, field+".png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/merge", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, payload any) *http.Request {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/merge-json", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRoot(t *testing.T) {
	f := newFixture(testConfig)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, ServiceName, body["message"])
	assert.Equal(t, ServiceVersion, body["version"])
	assert.Contains(t, body["endpoints"], "POST /merge")
}

func TestHealth(t *testing.T) {
	f := newFixture(testConfig)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestMergeMultipart(t *testing.T) {
	stored := &domain.StoredResult{
		Filename:   "merged_abc.jpg",
		Dimensions: domain.Dimensions{Width: 1800, Height: 1200},
		Format:     domain.JPG,
	}

	tests := []struct {
		name       string
		files      map[string][]byte
		fields     map[string]string
		publicURL  string
		setup      func(f *fixture)
		wantStatus int
		wantURL    string
		wantError  string
	}{
		{
			name:  "defaults",
			files: map[string][]byte{"model_image": []byte("model"), "product_image": []byte("product")},
			setup: func(f *fixture) {
				f.merger.On("MergeAndStore", mock.Anything, domain.MergeRequest{
					ModelImage:   []byte("model"),
					ProductImage: []byte("product"),
					TargetHeight: domain.Pixels(1200),
					Format:       domain.JPG,
				}).Return(stored, nil)
			},
			wantStatus: http.StatusOK,
			wantURL:    "/outputs/merged_abc.jpg",
		},
		{
			name:      "explicit height and format with public url",
			files:     map[string][]byte{"model_image": []byte("model"), "product_image": []byte("product")},
			fields:    map[string]string{"target_height": "800", "output_format": "png"},
			publicURL: "https://merge.example.com/",
			setup: func(f *fixture) {
				f.merger.On("MergeAndStore", mock.Anything, domain.MergeRequest{
					ModelImage:   []byte("model"),
					ProductImage: []byte("product"),
					TargetHeight: domain.Pixels(800),
					Format:       domain.PNG,
				}).Return(stored, nil)
			},
			wantStatus: http.StatusOK,
			wantURL:    "https://merge.example.com/outputs/merged_abc.jpg",
		},
		{
			name:       "height below range",
			files:      map[string][]byte{"model_image": []byte("model"), "product_image": []byte("product")},
			fields:     map[string]string{"target_height": "99"},
			wantStatus: http.StatusBadRequest,
			wantError:  "target_height must be between 100 and 5000",
		},
		{
			name:       "height above range",
			files:      map[string][]byte{"model_image": []byte("model"), "product_image": []byte("product")},
			fields:     map[string]string{"target_height": "5001"},
			wantStatus: http.StatusBadRequest,
			wantError:  "target_height must be between 100 and 5000",
		},
		{
			name:       "height not a number",
			files:      map[string][]byte{"model_image": []byte("model"), "product_image": []byte("product")},
			fields:     map[string]string{"target_height": "tall"},
			wantStatus: http.StatusBadRequest,
			wantError:  "target_height must be an integer",
		},
		{
			name:       "bad format",
			files:      map[string][]byte{"model_image": []byte("model"), "product_image": []byte("product")},
			fields:     map[string]string{"output_format": "gif"},
			wantStatus: http.StatusBadRequest,
			wantError:  "must be jpg or png",
		},
		{
			name:       "missing product",
			files:      map[string][]byte{"model_image": []byte("model")},
			wantStatus: http.StatusBadRequest,
			wantError:  "product_image is required",
		},
		{
			name:  "product not an image",
			files: map[string][]byte{"model_image": []byte("model"), "product_image": []byte("text")},
			setup: func(f *fixture) {
				f.merger.On("MergeAndStore", mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("product image: %w", domain.ErrDecodeFailure))
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "product image",
		},
		{
			name:  "encode failure",
			files: map[string][]byte{"model_image": []byte("model"), "product_image": []byte("product")},
			setup: func(f *fixture) {
				f.merger.On("MergeAndStore", mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("%w: boom", domain.ErrEncodeFailure))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "failed to merge images",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig
			cfg.PublicURL = tc.publicURL
			f := newFixture(cfg)

			for field, data := range tc.files {
				name := "upload_" + field + ".png"
				f.uploads.On("Put", mock.Anything, data, ".png").Return(name, nil)
				f.uploads.On("Get", name).Return(data, nil)
				f.uploads.On("Remove", name).Return()
			}
			if tc.setup != nil {
				tc.setup(f)
			}

			rec := f.do(multipartRequest(t, tc.files, tc.fields))

			assert.Equal(t, tc.wantStatus, rec.Code)
			body := decode(t, rec)

			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, true, body["success"])
				assert.Equal(t, "Images merged successfully", body["message"])
				out := body["output"].(map[string]any)
				assert.Equal(t, tc.wantURL, out["url"])
				assert.Equal(t, "merged_abc.jpg", out["filename"])
				assert.Equal(t, "JPG", out["format"])
				assert.Equal(t, map[string]any{"width": 1800.0, "height": 1200.0}, out["dimensions"])
			} else {
				assert.Equal(t, false, body["success"])
				assert.Contains(t, body["error"], tc.wantError)
			}

			f.merger.AssertExpectations(t)

			// every spooled upload is read back and released again
			puts := 0
			for _, call := range f.uploads.Calls {
				if call.Method == "Put" {
					puts++
				}
			}
			if tc.setup != nil {
				assert.Equal(t, 2, puts)
			}
			f.uploads.AssertNumberOfCalls(t, "Get", puts)
			f.uploads.AssertNumberOfCalls(t, "Remove", puts)
		})
	}
}

func TestMergeMultipartSpoolFailure(t *testing.T) {
	t.Run("store unavailable", func(t *testing.T) {
		f := newFixture(testConfig)
		f.uploads.On("Put", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("read-only fs"))

		rec := f.do(multipartRequest(t, map[string][]byte{"model_image": {1}, "product_image": {2}}, nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "storing model_image")
		f.merger.AssertNotCalled(t, "MergeAndStore", mock.Anything, mock.Anything)
		f.uploads.AssertNotCalled(t, "Remove", mock.Anything)
	})

	t.Run("spooled file vanished", func(t *testing.T) {
		f := newFixture(testConfig)
		f.uploads.On("Put", mock.Anything, mock.Anything, mock.Anything).Return("upload_1.png", nil)
		f.uploads.On("Get", "upload_1.png").Return(nil, fmt.Errorf("%w: upload_1.png", domain.ErrNotFound))
		f.uploads.On("Remove", "upload_1.png").Return()

		rec := f.do(multipartRequest(t, map[string][]byte{"model_image": {1}, "product_image": {2}}, nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		f.merger.AssertNotCalled(t, "MergeAndStore", mock.Anything, mock.Anything)
		f.uploads.AssertNumberOfCalls(t, "Remove", 1)
	})
}

func TestMergeMultipartTooLarge(t *testing.T) {
	cfg := testConfig
	cfg.MaxUploadBytes = 256
	f := newFixture(cfg)

	rec := f.do(multipartRequest(t, map[string][]byte{
		"model_image":   bytes.Repeat([]byte{0xff}, 4096),
		"product_image": {1},
	}, nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
	f.uploads.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
	f.merger.AssertNotCalled(t, "MergeAndStore", mock.Anything, mock.Anything)
}

func TestMergeJSON(t *testing.T) {
	stored := &domain.StoredResult{
		Filename:   "merged_abc.png",
		Dimensions: domain.Dimensions{Width: 800, Height: 500},
		Format:     domain.PNG,
	}

	tests := []struct {
		name       string
		payload    any
		setup      func(f *fixture)
		wantStatus int
		wantError  string
	}{
		{
			name: "success",
			payload: map[string]any{
				"model_image":   "data:image/png;base64,AAAA",
				"product_image": "https://example.com/p.png",
				"target_height": 500,
				"output_format": "png",
			},
			setup: func(f *fixture) {
				f.fetcher.On("Fetch", mock.Anything, "data:image/png;base64,AAAA").Return([]byte("model"), nil)
				f.fetcher.On("Fetch", mock.Anything, "https://example.com/p.png").Return([]byte("product"), nil)
				f.merger.On("MergeAndStore", mock.Anything, domain.MergeRequest{
					ModelImage:   []byte("model"),
					ProductImage: []byte("product"),
					TargetHeight: domain.Pixels(500),
					Format:       domain.PNG,
				}).Return(stored, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:    "defaults",
			payload: map[string]any{"model_image": "a", "product_image": "b"},
			setup: func(f *fixture) {
				f.fetcher.On("Fetch", mock.Anything, "a").Return([]byte("model"), nil)
				f.fetcher.On("Fetch", mock.Anything, "b").Return([]byte("product"), nil)
				f.merger.On("MergeAndStore", mock.Anything, domain.MergeRequest{
					ModelImage:   []byte("model"),
					ProductImage: []byte("product"),
					TargetHeight: domain.Pixels(1200),
					Format:       domain.JPG,
				}).Return(stored, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "zero height",
			payload:    map[string]any{"model_image": "a", "product_image": "b", "target_height": 0},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid dimension",
		},
		{
			name:       "missing model",
			payload:    map[string]any{"product_image": "b"},
			wantStatus: http.StatusBadRequest,
			wantError:  "model_image is required",
		},
		{
			name:       "malformed body",
			payload:    "not an object",
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
		{
			name:    "unreachable url",
			payload: map[string]any{"model_image": "a", "product_image": "https://nowhere.invalid/x.png"},
			setup: func(f *fixture) {
				f.fetcher.On("Fetch", mock.Anything, "a").Return([]byte("model"), nil)
				f.fetcher.On("Fetch", mock.Anything, "https://nowhere.invalid/x.png").
					Return(nil, fmt.Errorf("%w: dial failed", domain.ErrInvalidSource))
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "product_image",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(testConfig)
			if tc.setup != nil {
				tc.setup(f)
			}

			rec := f.do(jsonRequest(t, tc.payload))

			assert.Equal(t, tc.wantStatus, rec.Code)
			body := decode(t, rec)
			if tc.wantStatus == http.StatusOK {
				out := body["output"].(map[string]any)
				assert.Equal(t, "/outputs/merged_abc.png", out["url"])
				assert.Equal(t, "PNG", out["format"])
			} else {
				assert.Contains(t, body["error"], tc.wantError)
			}

			f.merger.AssertExpectations(t)
			f.fetcher.AssertExpectations(t)
		})
	}
}

func TestMergeJSONTooLarge(t *testing.T) {
	cfg := testConfig
	cfg.MaxUploadBytes = 16
	f := newFixture(cfg)

	rec := f.do(jsonRequest(t, map[string]any{"model_image": "aaaaaaaaaaaaaaaaaaaaaaaa", "product_image": "b"}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	f.merger.AssertNotCalled(t, "MergeAndStore", mock.Anything, mock.Anything)
}

func TestOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merged_abc.png")
	require.NoError(t, os.WriteFile(path, []byte("png bytes"), 0o600))

	f := newFixture(testConfig)
	f.outputs.On("Path", "merged_abc.png").Return(path, nil)
	f.outputs.On("Path", "missing.png").Return("", fmt.Errorf("%w: missing.png", domain.ErrNotFound))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/outputs/merged_abc.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png bytes", rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/outputs/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestCleanup(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		setup      func(c *MockCleaner)
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name: "default age",
			setup: func(c *MockCleaner) {
				c.On("SweepNow", mock.Anything, 24*time.Hour).
					Return(map[string]int{"uploads": 1, "outputs": 3}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"success": true, "cleaned_uploads": 1.0, "cleaned_outputs": 3.0},
		},
		{
			name:  "explicit age",
			query: "?max_age_hours=2",
			setup: func(c *MockCleaner) {
				c.On("SweepNow", mock.Anything, 2*time.Hour).
					Return(map[string]int{"uploads": 0, "outputs": 0}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"success": true, "cleaned_uploads": 0.0, "cleaned_outputs": 0.0},
		},
		{
			name:       "invalid age",
			query:      "?max_age_hours=-1",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "sweep failure",
			setup: func(c *MockCleaner) {
				c.On("SweepNow", mock.Anything, 24*time.Hour).
					Return(map[string]int{"uploads": 0}, errors.New("permission denied"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(testConfig)
			if tc.setup != nil {
				tc.setup(f.cleaner)
			}

			rec := f.do(httptest.NewRequest(http.MethodDelete, "/cleanup"+tc.query, nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantBody != nil {
				assert.Equal(t, tc.wantBody, decode(t, rec))
			}
			f.cleaner.AssertExpectations(t)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "decode", err: fmt.Errorf("x: %w", domain.ErrDecodeFailure), want: http.StatusBadRequest},
		{name: "dimension", err: domain.ErrInvalidDimension, want: http.StatusBadRequest},
		{name: "format", err: domain.ErrUnsupportedFormat, want: http.StatusBadRequest},
		{name: "source", err: domain.ErrInvalidSource, want: http.StatusBadRequest},
		{name: "request", err: badRequest(errors.New("missing")), want: http.StatusBadRequest},
		{name: "not found", err: domain.ErrNotFound, want: http.StatusNotFound},
		{name: "too large", err: fmt.Errorf("x: %w", &http.MaxBytesError{Limit: 1}), want: http.StatusRequestEntityTooLarge},
		{name: "encode", err: domain.ErrEncodeFailure, want: http.StatusInternalServerError},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}
