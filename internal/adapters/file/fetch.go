package file

import (
	"context"
	"encoding/base64"
	"fmt"
	"imgmerge/internal/core/domain"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Fetcher resolves image references from JSON requests: data URIs, raw base64 or http(s) URLs.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

func (f *Fetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	source = strings.TrimSpace(source)

	switch {
	case source == "":
		return nil, fmt.Errorf("%w: empty", domain.ErrInvalidSource)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		log.Ctx(ctx).Debug().Str("url", source).Msg("downloading image")

		data, err := DownloadFile(ctx, f.client, source, f.maxBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSource, err)
		}
		return data, nil
	case strings.HasPrefix(source, "data:"):
		header, payload, ok := strings.Cut(source, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("%w: data URI must be base64 encoded", domain.ErrInvalidSource)
		}
		return f.decodeBase64(payload)
	default:
		return f.decodeBase64(source)
	}
}

func (f *Fetcher) decodeBase64(payload string) ([]byte, error) {
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > f.maxBytes+2 {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", domain.ErrInvalidSource, f.maxBytes)
	}

	payload = strings.TrimRight(payload, "=")

	data, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64 or a URL: %w", domain.ErrInvalidSource, err)
	}

	return data, nil
}
