package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ActionType is the fixed set of mitigation commands the orchestrator may
// issue.
type ActionType string

const (
	ActionBlockNetwork  ActionType = "block-network"
	ActionIsolateHost   ActionType = "isolate-host"
	ActionNotifyChannel ActionType = "notify-channel"
)

// Result is the collaborator's answer to one command.
type Result struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// Executor is the command interface to response collaborators. Actions must
// be idempotent by construction so a retry after timeout cannot
// double-apply; implementations treat this as a remote call with a
// deadline, never fire-and-forget.
type Executor interface {
	Execute(ctx context.Context, action ActionType, target string, params map[string]string) (Result, error)
}

// HTTPExecutor issues commands to a remote collaborator as
// POST {base}/execute with a JSON body and parses {success, detail}.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPExecutor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, action ActionType, target string, params map[string]string) (Result, error) {
	body, err := json.Marshal(map[string]any{
		"action":     action,
		"target":     target,
		"parameters": params,
	})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("execute %s: %w", action, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("execute %s: status %d", action, resp.StatusCode)
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("execute %s: decode: %w", action, err)
	}
	return res, nil
}
