// AngelaMos | 2026
// proxy.go

package conversion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/carterperez-dev/modelforge/internal/config"
	"github.com/carterperez-dev/modelforge/internal/core"
)

const (
	maxUpstreamErrorBody = 64 << 10
	defaultModelType     = "application/octet-stream"
)

type Image struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// Model is a converted 3D model. The caller must close Body.
type Model struct {
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

// UpstreamError is a non-2xx answer from the conversion API. Its status
// and body are relayed to the caller unchanged.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("conversion api returned %d", e.StatusCode)
}

// Payload returns the body as raw JSON when it is JSON, and as a string
// otherwise.
func (e *UpstreamError) Payload() any {
	if len(e.Body) > 0 && json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	return string(e.Body)
}

// Proxy forwards images to the external image-to-3D API. It holds the API
// key and never touches the ledger.
type Proxy struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewProxy(cfg config.ConversionConfig) (*Proxy, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse conversion url: %w", err)
	}

	deviceType := cfg.DeviceType
	if deviceType == "" {
		deviceType = "ios"
	}
	q := u.Query()
	q.Set("device_type", deviceType)
	u.RawQuery = q.Encode()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &Proxy{
		endpoint: u.String(),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (p *Proxy) Convert(ctx context.Context, img Image) (*Model, error) {
	ctx, span := core.StartSpan(ctx, "conversion.proxy.convert")
	defer span.End()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeImagePart(mw, img))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, pr)
	if err != nil {
		_ = pr.Close() //nolint:errcheck // unblocks the writer
		return nil, fmt.Errorf("build conversion request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		_ = pr.Close() //nolint:errcheck // unblocks the writer
		core.SetSpanError(ctx, err)
		return nil, fmt.Errorf("convert: %w: %w", core.ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close() //nolint:errcheck // read-only body
		_ = pr.Close()          //nolint:errcheck // upstream may answer before reading the upload
		//nolint:errcheck // best-effort error detail
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamErrorBody))
		upErr := &UpstreamError{StatusCode: resp.StatusCode, Body: body}
		core.SetSpanError(ctx, upErr)
		return nil, fmt.Errorf("convert: %w", upErr)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultModelType
	}

	return &Model{
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

func writeImagePart(mw *multipart.Writer, img Image) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(
		`form-data; name="image"; filename=%s`,
		strconv.Quote(filenameOrDefault(img.Filename)),
	))
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, img.Data); err != nil {
		return err
	}
	return mw.Close()
}

func filenameOrDefault(name string) string {
	if name == "" {
		return "image"
	}
	return name
}
