// Package gradio drives a self-hosted voice cloning model exposed through
// Gradio's queued call API: upload the reference clip, submit a job, wait,
// read the job's event stream and download the produced file.
package gradio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/platform/logging"
)

const (
	ProviderName = "gradio"

	defaultFn              = "basic_tts"
	defaultSubmitTimeout   = 20 * time.Second
	defaultPollTimeout     = 60 * time.Second
	defaultDownloadTimeout = 20 * time.Second
	maxSSELine             = 1 << 20
)

type Config struct {
	BaseURL         string
	Fn              string
	SubmitTimeout   time.Duration
	PollTimeout     time.Duration
	DownloadTimeout time.Duration
	// WarmupDelay is waited after submission before the event stream is
	// opened; the model needs it to pick the job up.
	WarmupDelay time.Duration
	MaxChars    int
	Overflow    inter.Overflow
}

type Provider struct {
	cfg    Config
	client *http.Client
	logger *logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Provider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

func New(cfg Config, logger *logging.Logger, opts ...Option) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Fn == "" {
		cfg.Fn = defaultFn
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 300
	}
	if cfg.Overflow == "" {
		cfg.Overflow = inter.OverflowTruncate
	}
	p := &Provider{cfg: cfg, client: &http.Client{}, logger: logger, sleep: sleepCtx}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) UsesReference() bool { return true }

func (p *Provider) TextPolicy() inter.TextPolicy {
	return inter.TextPolicy{MaxChars: p.cfg.MaxChars, Overflow: p.cfg.Overflow}
}

func (p *Provider) Synthesize(ctx context.Context, req inter.SynthesisRequest) (*inter.SynthesisResult, error) {
	text, err := p.TextPolicy().Apply(ProviderName, req.Text)
	if err != nil {
		return nil, err
	}
	if p.cfg.BaseURL == "" {
		return nil, inter.NewError(ProviderName, inter.KindRejected, "base url not configured", nil)
	}
	if req.Reference == nil || len(req.Reference.Bytes) == 0 {
		return nil, inter.NewError(ProviderName, inter.KindRejected, "reference voice required", nil)
	}

	refPath, err := p.upload(ctx, req.Reference)
	if err != nil {
		return nil, err
	}

	eventID, err := p.submit(ctx, refPath, req.Reference.Transcript, text)
	if err != nil {
		return nil, err
	}
	p.logger.DebugTag("TTS", "gradio job %s submitted", eventID)

	if err := p.sleep(ctx, p.cfg.WarmupDelay); err != nil {
		return nil, inter.TransportError(ProviderName, err)
	}

	fileURL, err := p.poll(ctx, eventID)
	if err != nil {
		return nil, err
	}

	audio, err := p.download(ctx, fileURL)
	if err != nil {
		return nil, err
	}

	wav, format, err := container.Normalize(audio, container.Format{})
	if err != nil {
		return nil, inter.NewError(ProviderName, inter.KindEmptyAudio, "undecodable audio", err)
	}
	return &inter.SynthesisResult{Audio: wav, Format: format, Provider: ProviderName}, nil
}

func (p *Provider) upload(ctx context.Context, ref *inter.ReferenceAudio) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	defer cancel()

	name := ref.Name
	if name == "" {
		name = "reference.wav"
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", name)
	if err != nil {
		return "", inter.NewError(ProviderName, inter.KindRejected, "build upload", err)
	}
	if _, err := part.Write(ref.Bytes); err != nil {
		return "", inter.NewError(ProviderName, inter.KindRejected, "build upload", err)
	}
	if err := mw.Close(); err != nil {
		return "", inter.NewError(ProviderName, inter.KindRejected, "build upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/gradio_api/upload", &body)
	if err != nil {
		return "", inter.NewError(ProviderName, inter.KindRejected, "build upload", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := p.do(req)
	if err != nil {
		return "", err
	}
	var paths []string
	if err := sonic.Unmarshal(raw, &paths); err != nil || len(paths) == 0 || paths[0] == "" {
		return "", inter.NewError(ProviderName, inter.KindRejected, "upload returned no file path", err)
	}
	return paths[0], nil
}

type fileData struct {
	Path string         `json:"path"`
	Meta map[string]any `json:"meta"`
}

type callRequest struct {
	Data []any `json:"data"`
}

type callResponse struct {
	EventID string `json:"event_id"`
}

func (p *Provider) submit(ctx context.Context, refPath, transcript, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	defer cancel()

	payload, err := sonic.Marshal(callRequest{Data: []any{
		fileData{Path: refPath, Meta: map[string]any{"_type": "gradio.FileData"}},
		transcript,
		text,
		false,
	}})
	if err != nil {
		return "", inter.NewError(ProviderName, inter.KindRejected, "encode submit", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.callURL(), bytes.NewReader(payload))
	if err != nil {
		return "", inter.NewError(ProviderName, inter.KindRejected, "build submit", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := p.do(req)
	if err != nil {
		return "", err
	}
	var resp callResponse
	if err := sonic.Unmarshal(raw, &resp); err != nil || strings.TrimSpace(resp.EventID) == "" {
		return "", inter.NewError(ProviderName, inter.KindNoJob, "submit returned no event_id", err)
	}
	return resp.EventID, nil
}

// poll reads the job's server-sent events until "complete" or "error".
func (p *Provider) poll(ctx context.Context, eventID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.callURL()+"/"+url.PathEscape(eventID), nil)
	if err != nil {
		return "", inter.NewError(ProviderName, inter.KindRejected, "build poll", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", inter.TransportError(ProviderName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", inter.NewError(ProviderName, inter.KindNoJob, "job "+eventID+" unknown to server", nil)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", inter.StatusError(ProviderName, resp.StatusCode, string(detail))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELine)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			done, fileURL, err := p.handleEvent(event, data.String())
			if done {
				return fileURL, err
			}
			event = ""
			data.Reset()
		}
	}
	if err := scanner.Err(); err != nil {
		return "", inter.TransportError(ProviderName, err)
	}
	// a stream may end without the final blank line
	if done, fileURL, err := p.handleEvent(event, data.String()); done {
		return fileURL, err
	}
	return "", inter.NewError(ProviderName, inter.KindNoJob, "event stream ended without a result", nil)
}

func (p *Provider) handleEvent(event, data string) (bool, string, error) {
	switch event {
	case "complete":
		fileURL, ok := p.extractFileURL(data)
		if !ok {
			return true, "", inter.NewError(ProviderName, inter.KindEmptyAudio, "result carries no audio file", nil)
		}
		return true, fileURL, nil
	case "error":
		msg := data
		if msg == "" || msg == "null" {
			msg = "job failed"
		}
		return true, "", inter.NewError(ProviderName, inter.KindRejected, msg, nil)
	default:
		return false, "", nil
	}
}

// extractFileURL finds the first file reference in a completion payload.
// Outputs are a JSON array whose audio element is a file object, possibly
// wrapped in {"value": ...} or a nested array.
func (p *Provider) extractFileURL(data string) (string, bool) {
	var payload any
	if err := sonic.UnmarshalString(data, &payload); err != nil {
		return "", false
	}
	ref, ok := findFile(payload)
	if !ok {
		return "", false
	}
	if ref.url != "" {
		return ref.url, true
	}
	return p.cfg.BaseURL + "/gradio_api/file=" + ref.path, true
}

type fileRef struct{ url, path string }

func findFile(v any) (fileRef, bool) {
	switch t := v.(type) {
	case map[string]any:
		u, _ := t["url"].(string)
		pth, _ := t["path"].(string)
		if u != "" || pth != "" {
			return fileRef{url: u, path: pth}, true
		}
		if inner, ok := t["value"]; ok {
			return findFile(inner)
		}
	case []any:
		for _, item := range t {
			if ref, ok := findFile(item); ok {
				return ref, true
			}
		}
	case string:
		// some apps return the output as a JSON encoded string
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var inner any
			if err := sonic.UnmarshalString(trimmed, &inner); err == nil {
				return findFile(inner)
			}
		}
	}
	return fileRef{}, false
}

func (p *Provider) download(ctx context.Context, fileURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, inter.NewError(ProviderName, inter.KindRejected, "build download", err)
	}
	raw, err := p.do(req)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, inter.NewError(ProviderName, inter.KindEmptyAudio, "downloaded file is empty", nil)
	}
	return raw, nil
}

func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, inter.TransportError(ProviderName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, inter.TransportError(ProviderName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, inter.StatusError(ProviderName, resp.StatusCode, string(raw))
	}
	return raw, nil
}

func (p *Provider) callURL() string {
	return fmt.Sprintf("%s/gradio_api/call/%s", p.cfg.BaseURL, url.PathEscape(p.cfg.Fn))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
