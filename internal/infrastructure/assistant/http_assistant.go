// Package assistant implements the Assistant port against a streaming HTTP
// upstream. The upstream answers a prompt as a plain text stream; the stream
// may terminate in one JSON object describing a file action.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"codecollab/internal/core/ports"
)

const readChunkSize = 4 * 1024

type HTTPAssistant struct {
	upstreamURL string
	client      *http.Client
	logger      *zap.SugaredLogger
}

func NewHTTPAssistant(upstreamURL string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPAssistant {
	return &HTTPAssistant{
		upstreamURL: upstreamURL,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type promptRequest struct {
	Prompt   string `json:"prompt"`
	FileName string `json:"fileName,omitempty"`
	Content  string `json:"content,omitempty"`
}

// SendPrompt posts the prompt and active-file context upstream and streams
// the answer back chunk by chunk. If the stream ends with a well-formed file
// action object, it is delivered as the final chunk; a malformed trailer is
// surfaced as plain text instead of being dropped.
func (a *HTTPAssistant) SendPrompt(ctx context.Context, prompt string, fctx ports.FileContext) (<-chan ports.AssistChunk, error) {
	if a.upstreamURL == "" {
		return nil, fmt.Errorf("assistant upstream not configured")
	}

	body, err := json.Marshal(promptRequest{
		Prompt:   prompt,
		FileName: fctx.FileName,
		Content:  fctx.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal prompt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("assistant upstream returned status %d", resp.StatusCode)
	}

	out := make(chan ports.AssistChunk)
	go a.stream(resp.Body, out)
	return out, nil
}

func (a *HTTPAssistant) stream(body io.ReadCloser, out chan<- ports.AssistChunk) {
	defer close(out)
	defer body.Close()

	var full strings.Builder
	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			full.WriteString(chunk)
			out <- ports.AssistChunk{Text: chunk}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			a.logger.Errorw("assistant stream read failed", "error", err)
			return
		}
	}

	if action := extractTrailingAction(full.String()); action != nil {
		out <- ports.AssistChunk{Action: action}
	}
}

// extractTrailingAction parses a JSON object terminating the response text as
// a file action. The object must extend to the end of the stream; braces
// inside code content are handled by requiring a full parse. Anything that
// does not validate as the tagged union is treated as ordinary prose.
func extractTrailingAction(text string) *ports.FileAction {
	trimmed := strings.TrimSpace(text)
	for offset := 0; ; {
		rel := strings.Index(trimmed[offset:], "{")
		if rel < 0 {
			return nil
		}
		start := offset + rel
		candidate := trimmed[start:]

		var action ports.FileAction
		if err := json.Unmarshal([]byte(candidate), &action); err == nil {
			switch action.Type {
			case ports.ActionCreateFile, ports.ActionEditCode:
				if action.FileName != "" {
					return &action
				}
			}
			return nil
		}
		offset = start + 1
	}
}
