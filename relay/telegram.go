package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// TelegramSink uploads audio through a Telegram-style bot file API
// (sendAudio with multipart form data). It enforces a max accepted payload
// size of its own: oversized uploads are refused locally instead of burning
// upload bandwidth on a guaranteed 413.
type TelegramSink struct {
	baseURL  string
	token    string
	chatID   string
	maxBytes int64
	client   *http.Client
}

// TelegramSinkConfig configures the sink binding.
type TelegramSinkConfig struct {
	BaseURL  string
	Token    string
	ChatID   string
	MaxBytes int64
	Client   *http.Client
}

// NewTelegramSink builds the sink.
func NewTelegramSink(cfg TelegramSinkConfig) *TelegramSink {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &TelegramSink{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		chatID:   cfg.ChatID,
		maxBytes: cfg.MaxBytes,
		client:   client,
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send performs one sendAudio upload. Rejections (local size refusal, 413,
// 429, 5xx, ok=false) come back as SendResult with a reason; only transport
// faults return an error.
func (s *TelegramSink) Send(ctx context.Context, up Upload) (SendResult, error) {
	if s.maxBytes > 0 && up.Size > s.maxBytes {
		return SendResult{Accepted: false, Reason: fmt.Sprintf("payload %d bytes exceeds sink limit %d", up.Size, s.maxBytes)}, nil
	}

	// Stream the multipart body through a pipe; the payload is never buffered
	// in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer mw.Close()

		_ = mw.WriteField("chat_id", s.chatID)
		_ = mw.WriteField("title", up.Title)
		_ = mw.WriteField("performer", up.Performer)

		part, err := mw.CreateFormFile("audio", up.FilenameHint)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, up.Body); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
	}()

	url := fmt.Sprintf("%s/bot%s/sendAudio", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return SendResult{Accepted: false, Reason: "sink refused payload: too large"}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return SendResult{Accepted: false, Reason: "sink throttled the upload"}, nil
	case resp.StatusCode >= 500:
		return SendResult{Accepted: false, Reason: fmt.Sprintf("sink fault: status %d", resp.StatusCode)}, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return SendResult{Accepted: false, Reason: fmt.Sprintf("sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}, nil
	}

	var body telegramResponse
	_ = json.Unmarshal(raw, &body)
	if !body.OK {
		reason := body.Description
		if reason == "" {
			reason = "sink reported ok=false"
		}
		return SendResult{Accepted: false, Reason: reason}, nil
	}
	return SendResult{Accepted: true}, nil
}
