// Package publish delivers photos to a channel over the Telegram Bot API.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/postrelay/internal/privacy"
)

const (
	DefaultAPIURL  = "https://api.telegram.org"
	MaxGroupSize   = 10
	requestTimeout = 60 * time.Second
	maxRespBytes   = 1 << 20
)

// Config configures a Publisher.
type Config struct {
	APIURL     string
	Token      string
	ChatID     string
	HTTPClient *http.Client
}

// Publisher sends photos to a single destination chat.
type Publisher struct {
	apiURL string
	token  string
	chatID string
	httpc  *http.Client
	redact []*regexp.Regexp
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Method, e.StatusCode, e.Description)
}

// Result is the outcome of Send.
type Result struct {
	Method     string
	Count      int
	MessageIDs []int64
	Err        error
}

// OK reports whether delivery succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// New returns a publisher for cfg.ChatID.
func New(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("publish: bot token is required")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("publish: chat id is required")
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: requestTimeout}
	}
	redact, err := privacy.Secrets(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	return &Publisher{
		apiURL: apiURL,
		token:  cfg.Token,
		chatID: cfg.ChatID,
		httpc:  httpc,
		redact: redact,
	}, nil
}

// Send publishes one photo with sendPhoto, or several as a media group
// where only the first item carries the caption.
func (p *Publisher) Send(ctx context.Context, paths []string, caption string) Result {
	switch {
	case len(paths) == 0:
		return Result{Err: errors.New("publish: no photos to send")}
	case len(paths) == 1:
		id, err := p.SendPhoto(ctx, paths[0], caption)
		res := Result{Method: "sendPhoto", Count: 1, Err: err}
		if err == nil {
			res.MessageIDs = []int64{id}
		}
		return res
	default:
		ids, err := p.SendMediaGroup(ctx, paths, caption)
		return Result{Method: "sendMediaGroup", Count: len(paths), MessageIDs: ids, Err: err}
	}
}

// SendPhoto uploads a single photo.
func (p *Publisher) SendPhoto(ctx context.Context, path, caption string) (int64, error) {
	form := newForm()
	form.field("chat_id", p.chatID)
	if caption != "" {
		form.field("caption", caption)
	}
	if err := form.file("photo", path); err != nil {
		return 0, err
	}

	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	if err := p.call(ctx, "sendPhoto", form, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

type inputMediaPhoto struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

// SendMediaGroup uploads 2..10 photos as one album.
func (p *Publisher) SendMediaGroup(ctx context.Context, paths []string, caption string) ([]int64, error) {
	if len(paths) < 2 || len(paths) > MaxGroupSize {
		return nil, fmt.Errorf("publish: media group needs 2..%d photos, got %d", MaxGroupSize, len(paths))
	}

	form := newForm()
	form.field("chat_id", p.chatID)

	media := make([]inputMediaPhoto, 0, len(paths))
	for i, path := range paths {
		name := fmt.Sprintf("photo%d", i)
		item := inputMediaPhoto{Type: "photo", Media: "attach://" + name}
		if i == 0 {
			item.Caption = caption
		}
		media = append(media, item)
		if err := form.file(name, path); err != nil {
			return nil, err
		}
	}
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return nil, fmt.Errorf("encode media: %w", err)
	}
	form.field("media", string(mediaJSON))

	var msgs []struct {
		MessageID int64 `json:"message_id"`
	}
	if err := p.call(ctx, "sendMediaGroup", form, &msgs); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.MessageID)
	}
	return ids, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (p *Publisher) call(ctx context.Context, method string, form *multipartForm, out any) error {
	body, contentType, err := form.finish()
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}

	url := p.apiURL + "/bot" + p.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return p.scrub(method, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return p.scrub(method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRespBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Method: method, StatusCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !ar.OK || resp.StatusCode != http.StatusOK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: ar.Description}
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// scrub drops the token from transport errors, which embed the request URL.
func (p *Publisher) scrub(method string, err error) error {
	return fmt.Errorf("%s: %s", method, privacy.Apply(err.Error(), p.redact))
}

type multipartForm struct {
	buf bytes.Buffer
	w   *multipart.Writer
	err error
}

func newForm() *multipartForm {
	f := &multipartForm{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *multipartForm) field(name, value string) {
	if f.err != nil {
		return
	}
	f.err = f.w.WriteField(name, value)
}

func (f *multipartForm) file(name, path string) error {
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	part, err := f.w.CreateFormFile(name, filepath.Base(path))
	if err != nil {
		f.err = err
		return err
	}
	_, f.err = part.Write(data)
	return f.err
}

func (f *multipartForm) finish() (io.Reader, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if err := f.w.Close(); err != nil {
		return nil, "", err
	}
	return &f.buf, f.w.FormDataContentType(), nil
}
