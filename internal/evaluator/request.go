package evaluator

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/apperr"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
)

type formField struct {
	name  string
	value string
}

type formFile struct {
	name        string
	filename    string
	contentType string
	data        []byte
}

// form keeps parts in insertion order, so repeated file fields reach the
// evaluator in the order they were added.
type form struct {
	parts []any
}

func newForm() *form {
	return &form{}
}

func (f *form) field(name, value string) {
	f.parts = append(f.parts, formField{name: name, value: value})
}

func (f *form) file(name, filename, contentType string, data []byte) {
	f.parts = append(f.parts, formFile{name: name, filename: filename, contentType: contentType, data: data})
}

func (f *form) encode() (*bytes.Buffer, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	for _, part := range f.parts {
		switch p := part.(type) {
		case formField:
			field, err := w.CreateFormField(p.name)
			if err != nil {
				return nil, "", err
			}
			if _, err := io.Copy(field, strings.NewReader(p.value)); err != nil {
				return nil, "", err
			}
		case formFile:
			file, err := w.CreatePart(fileHeader(p))
			if err != nil {
				return nil, "", err
			}
			if _, err := io.Copy(file, bytes.NewReader(p.data)); err != nil {
				return nil, "", err
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &b, w.FormDataContentType(), nil
}

// fileHeader mirrors multipart.Writer.CreateFormFile but keeps the real
// content type instead of application/octet-stream.
func fileHeader(p formFile) textproto.MIMEHeader {
	ct := p.contentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(p.name), escapeQuotes(p.filename)))
	h.Set("Content-Type", ct)
	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func (c *Client) postForm(ctx context.Context, path string, f *form) (map[string]any, error) {
	body, formType, err := f.encode()
	if err != nil {
		return nil, fmt.Errorf("encoding form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return nil, err
	}

	req = c.setHeaders(req)
	req.Header.Set("Content-Type", formType)

	var data map[string]any
	if err := c.send(req, path, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}

	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), nil)
	if err != nil {
		return err
	}

	req = c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)

	return c.send(req, path, target)
}

// send performs the request and decodes a 2xx JSON body into target.
// Failures map onto the transport and remote rejection kinds.
func (c *Client) send(req *http.Request, path string, target any) error {
	resp, err := c.request(req)
	if err != nil {
		return apperr.Transport(err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return apperr.Transport(fmt.Errorf("reading evaluator response: %w", err))
	}

	c.logResponse(path, resp.StatusCode, data)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := rejectionDetail(data)
		c.logger.Warn("evaluator rejected the request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail),
		)
		return apperr.Rejection(resp.StatusCode, detail)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return malformed(fmt.Errorf("decoding evaluator response: %w", err))
	}

	return nil
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)

	return req
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	return io.ReadAll(reader)
}

// rejectionDetail extracts the human readable reason from an error body:
// a detail string, a list of validation errors with msg fields, or a
// message field.
func rejectionDetail(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}

	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.Type == gjson.String:
		return strings.TrimSpace(detail.String())
	case detail.IsArray():
		var msgs []string
		for _, item := range detail.Array() {
			msg := item.Get("msg").String()
			if item.Type == gjson.String {
				msg = item.String()
			}
			if msg = strings.TrimSpace(msg); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	case detail.IsObject():
		if msg := strings.TrimSpace(detail.Get("msg").String()); msg != "" {
			return msg
		}
	}

	if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String {
		return strings.TrimSpace(msg.String())
	}

	return ""
}
