package files

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/apps"
	"github.com/appvend/appvend/pkg/sanitize"
)

// Response is the outcome of a pipeline entry point: either a stream
// with computed headers or a structured error. After-serve callbacks run
// exactly once, after the body has been fully written, and never on an
// error path.
type Response struct {
	Err *apperr.Error

	// App is set by catalog-backed entry points so transports can
	// attribute the stream without a second lookup.
	App *apps.App

	body       io.ReadCloser
	size       int64
	modTime    time.Time
	fileName   string
	cacheCtl   string
	sniffed    string
	afterServe []func()
	served     bool
}

// Fail builds an error response.
func Fail(err *apperr.Error) *Response {
	return &Response{Err: err}
}

// Stream builds a successful response over a reader. size < 0 omits
// Content-Length.
func Stream(body io.ReadCloser, fileName string, size int64, modTime time.Time) *Response {
	return &Response{body: body, fileName: fileName, size: size, modTime: modTime}
}

// Document builds an in-memory response, sniffing the content type from
// the payload when the extension is unknown.
func Document(payload []byte, fileName string) *Response {
	return &Response{
		body:     io.NopCloser(bytes.NewReader(payload)),
		fileName: fileName,
		size:     int64(len(payload)),
		sniffed:  http.DetectContentType(payload),
	}
}

// Size returns the payload size, -1 when unknown.
func (r *Response) Size() int64 {
	return r.size
}

// CacheControl sets the Cache-Control header value.
func (r *Response) CacheControl(value string) *Response {
	r.cacheCtl = value
	return r
}

// AfterServe registers a callback to run once the body has been fully
// written. Registration order is preserved.
func (r *Response) AfterServe(fn func()) {
	if fn != nil {
		r.afterServe = append(r.afterServe, fn)
	}
}

// ContentType resolves the payload media type: extension first, sniffed
// bytes second, octet-stream last.
func (r *Response) ContentType() string {
	if ct := mime.TypeByExtension(filepath.Ext(r.fileName)); ct != "" {
		return ct
	}
	if r.sniffed != "" {
		return r.sniffed
	}
	return "application/octet-stream"
}

// Disposition renders the Content-Disposition header with both the plain
// and the RFC 6266 extended filename parameter.
func (r *Response) Disposition() string {
	name := sanitize.FileName(r.fileName)
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s",
		name, url.PathEscape(name))
}

// Send writes the response to w. Error responses are serialized by the
// caller's error boundary; Send only handles the success path. The
// after-serve callbacks fire only if the full body was written.
func (r *Response) Send(w http.ResponseWriter) error {
	if r.Err != nil {
		return r.Err
	}
	defer r.body.Close()

	h := w.Header()
	h.Set("Content-Type", r.ContentType())
	h.Set("Content-Disposition", r.Disposition())
	if r.size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(r.size, 10))
	}
	if !r.modTime.IsZero() {
		h.Set("Last-Modified", r.modTime.UTC().Format(http.TimeFormat))
	}
	if r.cacheCtl != "" {
		h.Set("Cache-Control", r.cacheCtl)
	}
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, r.body)
	if err != nil {
		return fmt.Errorf("failed to stream response: %w", err)
	}
	if r.size >= 0 && written != r.size {
		return fmt.Errorf("short write: %d of %d bytes", written, r.size)
	}
	r.runAfterServe()
	return nil
}

func (r *Response) runAfterServe() {
	if r.served {
		return
	}
	r.served = true
	for _, fn := range r.afterServe {
		fn()
	}
}
