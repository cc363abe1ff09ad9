// Package media uploads transaction attachments to Cloudinary using an
// unsigned upload preset.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"
)

var ErrUploadFailed = errors.New("upload failed")

const defaultBaseURL = "https://api.cloudinary.com"

// UploadResult is the subset of the Cloudinary response the caller
// stores on the transaction.
type UploadResult struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Bytes     int64  `json:"bytes"`
}

// ProgressFunc receives upload progress as bytes sent out of the total
// request body size.
type ProgressFunc func(sent, total int64)

// Uploader posts files to the unsigned upload endpoint of a Cloudinary
// cloud.
type Uploader struct {
	client  *http.Client
	baseURL string
	cloud   string
	preset  string
}

func NewUploader(cloudName, preset string) *Uploader {
	return &Uploader{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: defaultBaseURL,
		cloud:   cloudName,
		preset:  preset,
	}
}

// progressReader counts bytes as the request body is consumed.
type progressReader struct {
	r     io.Reader
	total int64
	sent  atomic.Int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil {
		p.fn(p.sent.Add(int64(n)), p.total)
	}
	return n, err
}

// Upload streams one file to Cloudinary. The multipart body is built
// up front so progress can be reported against a known total.
func (u *Uploader) Upload(ctx context.Context, filename string, content io.Reader, progress ProgressFunc) (UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return UploadResult{}, fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.WriteField("upload_preset", u.preset); err != nil {
		return UploadResult{}, fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("build form: %w", err)
	}

	reader := &progressReader{r: &body, total: int64(body.Len()), fn: progress}
	url := fmt.Sprintf("%s/v1_1/%s/upload", u.baseURL, u.cloud)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = reader.total

	resp, err := u.client.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return UploadResult{}, fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, msg)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
