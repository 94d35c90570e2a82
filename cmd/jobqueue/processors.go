package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/sky93/jobqueue"
)

const (
	kindShell   = "shell"
	kindWebhook = "webhook"
)

func processorFor(kind string) (jobqueue.Processor, error) {
	switch kind {
	case kindShell:
		return runShell, nil
	case kindWebhook:
		return (&webhook{client: &http.Client{Timeout: 30 * time.Second}}).run, nil
	}
	return nil, fmt.Errorf("unknown processor kind %q (want %s or %s)", kind, kindShell, kindWebhook)
}

type shellInput struct {
	Command string `json:"command"`
}

// runShell runs the job's command with sh -c and returns its output.
func runShell(ctx context.Context, payload json.RawMessage) (any, error) {
	var in shellInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, errors.New("invalid payload")
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, errors.New("command is empty")
	}

	out, err := exec.CommandContext(ctx, "sh", "-c", in.Command).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

type webhookInput struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

type webhook struct {
	client *http.Client
}

// run issues the request described by the job and returns the response body.
func (w *webhook) run(ctx context.Context, payload json.RawMessage) (any, error) {
	var in webhookInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, errors.New("invalid payload")
	}
	if in.URL == "" {
		return nil, errors.New("url is empty")
	}
	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(in.Body) > 0 {
		body = bytes.NewReader(in.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, in.URL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s %s: %s", method, in.URL, resp.Status)
	}
	return string(out), nil
}
