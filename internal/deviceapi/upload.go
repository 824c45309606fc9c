package deviceapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/espctl/espctl/internal/logging"
	"github.com/espctl/espctl/internal/version"
	"go.uber.org/zap"
)

// FirmwareField is the multipart field name the OTA handler reads.
const FirmwareField = "file"

// ProgressFunc receives the number of firmware bytes handed to the transport
// so far. total is -1 when the image size is not known; such events are
// still delivered but carry no computable length.
type ProgressFunc func(sent, total int64)

// UploadFirmware streams one firmware image as a single multipart body to
// /OTAupdate. onProgress runs on the uploading goroutine after every chunk;
// a slow callback slows the upload down.
//
// Only transport failures are returned. The HTTP response is drained and
// otherwise ignored: the device may reset before answering, and completion
// is learned from /OTAstatus instead.
func (c *Client) UploadFirmware(ctx context.Context, name string, r io.Reader, size int64, onProgress ProgressFunc) error {
	base := c.Endpoint.Snapshot()

	body, contentType, contentLength, err := firmwareBody(name, r, size, onProgress)
	if err != nil {
		return NewParseError("failed to build multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+PathOTAUpdate, body)
	if err != nil {
		return NewNetworkError("failed to create upload request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", version.UserAgent())
	req.ContentLength = contentLength

	start := time.Now()
	resp, err := c.UploadClient.Do(req)
	if err != nil {
		devErr := NewNetworkError("firmware upload failed", err)
		devErr.DeviceIP = hostOf(base)
		return devErr
	}
	defer func() { _ = resp.Body.Close() }()

	n, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	logging.Debug("Firmware upload response drained",
		zap.String("url", base+PathOTAUpdate),
		zap.Int("status_code", resp.StatusCode),
		zap.Int64("response_bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// firmwareBody assembles the multipart body. With a known size the framing
// is rendered up front so the request carries an exact Content-Length;
// otherwise the body is produced through a pipe and sent chunked.
func firmwareBody(name string, r io.Reader, size int64, onProgress ProgressFunc) (io.Reader, string, int64, error) {
	if size > 0 {
		var framing bytes.Buffer
		mw := multipart.NewWriter(&framing)
		if _, err := mw.CreateFormFile(FirmwareField, name); err != nil {
			return nil, "", 0, err
		}
		headLen := framing.Len()
		if err := mw.Close(); err != nil {
			return nil, "", 0, err
		}
		head := framing.Bytes()[:headLen]
		tail := framing.Bytes()[headLen:]

		pr := &progressReader{r: io.LimitReader(r, size), total: size, onProgress: onProgress}
		body := io.MultiReader(bytes.NewReader(head), pr, bytes.NewReader(tail))
		return body, mw.FormDataContentType(), int64(len(head)) + size + int64(len(tail)), nil
	}

	pipeR, pipeW := io.Pipe()
	mw := multipart.NewWriter(pipeW)
	go func() {
		part, err := mw.CreateFormFile(FirmwareField, name)
		if err != nil {
			_ = pipeW.CloseWithError(err)
			return
		}
		pr := &progressReader{r: r, total: -1, onProgress: onProgress}
		if _, err := io.Copy(part, pr); err != nil {
			_ = pipeW.CloseWithError(fmt.Errorf("read firmware: %w", err))
			return
		}
		_ = pipeW.CloseWithError(mw.Close())
	}()
	return pipeR, mw.FormDataContentType(), -1, nil
}

// progressReader reports the running byte count after each Read.
type progressReader struct {
	r          io.Reader
	sent       int64
	total      int64
	onProgress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.sent, p.total)
		}
	}
	return n, err
}
