// Package repository is a typed client for the scheduler HTTP API.
//
// Each exported method maps to one backend endpoint. Methods never retry; the
// caller decides what to do with a failure.
//
//	client := repository.New("http://localhost:8080/api",
//	    repository.WithToken(token),
//	)
//	pipeline, err := client.GetPipeline(ctx, "etl")
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/pipewatch/internal/log"
	"github.com/mattjoyce/pipewatch/internal/model"
)

const maxErrorBody = 4 * 1024

// Client communicates with the scheduler REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

const defaultTimeout = 30 * time.Second

// Option configures the Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets a custom http.Client. The client is copied, never
// modified.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout regardless of option order.
// Exceeding it yields a TransportError.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}

	hc := &http.Client{Timeout: defaultTimeout}
	if c.httpClient != nil {
		shared := *c.httpClient
		hc = &shared
	}
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.httpClient = hc
	if c.logger == nil {
		c.logger = log.WithComponent("repository")
	}
	return c
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetPipeline fetches a pipeline with its tasks and triggers.
func (c *Client) GetPipeline(ctx context.Context, pipelineID string) (model.Pipeline, error) {
	var p model.Pipeline
	err := c.doJSON(ctx, http.MethodGet, pipelinePath(pipelineID), nil, &p, "pipeline", pipelineID)
	if err != nil {
		return model.Pipeline{}, err
	}
	if p.Tasks == nil {
		p.Tasks = []model.Task{}
	}
	if p.Triggers == nil {
		p.Triggers = []model.ScheduledTrigger{}
	}
	return p, nil
}

// ListPipelines fetches every pipeline known to the scheduler.
func (c *Client) ListPipelines(ctx context.Context) ([]model.Pipeline, error) {
	var result []model.Pipeline
	if err := c.doJSON(ctx, http.MethodGet, "/pipelines", nil, &result, "pipelines", ""); err != nil {
		return nil, err
	}
	if result == nil {
		result = []model.Pipeline{}
	}
	return result, nil
}

// ListRuns fetches the runs started by a trigger, newest first.
// No runs is an empty slice, not an error.
func (c *Client) ListRuns(ctx context.Context, pipelineID, triggerID string) ([]model.PipelineRun, error) {
	var result []model.PipelineRun
	path := triggerPath(pipelineID, triggerID) + "/runs"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result, "trigger", pipelineID+"/"+triggerID); err != nil {
		return nil, err
	}
	if result == nil {
		result = []model.PipelineRun{}
	}
	return result, nil
}

// ListRunLogs fetches the task log lines recorded for a run.
func (c *Client) ListRunLogs(ctx context.Context, pipelineID string, runID int64) ([]model.LogEntry, error) {
	var result []model.LogEntry
	path := pipelinePath(pipelineID) + "/runs/" + strconv.FormatInt(runID, 10) + "/logs"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result, "run", strconv.FormatInt(runID, 10)); err != nil {
		return nil, err
	}
	if result == nil {
		result = []model.LogEntry{}
	}
	return result, nil
}

// RunPipelineTrigger asks the scheduler to start a run. params may be empty.
func (c *Client) RunPipelineTrigger(ctx context.Context, pipelineID, triggerID string, params model.Params) (model.RunResult, error) {
	var body io.Reader
	if !params.Empty() {
		body = bytes.NewReader(params)
	}
	req, err := c.buildRequest(ctx, http.MethodPost, triggerPath(pipelineID, triggerID)+"/run", body)
	if err != nil {
		return model.RunResult{}, err
	}

	var result model.RunResult
	if err := c.do(req, &result, "trigger", pipelineID+"/"+triggerID); err != nil {
		return model.RunResult{}, err
	}
	return result, nil
}

// Ping checks that the API answers on /healthz.
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil, "healthz", "")
}

// TriggerRunURL returns the endpoint that starts a run of the trigger via
// HTTP POST. It performs no I/O.
func (c *Client) TriggerRunURL(pipelineID, triggerID string) string {
	return TriggerRunURL(c.baseURL, pipelineID, triggerID)
}

// TriggerRunURL builds the run endpoint for an API root.
func TriggerRunURL(baseURL, pipelineID, triggerID string) string {
	return strings.TrimRight(baseURL, "/") + triggerPath(pipelineID, triggerID) + "/run"
}

func pipelinePath(pipelineID string) string {
	return "/pipelines/" + url.PathEscape(pipelineID)
}

func triggerPath(pipelineID, triggerID string) string {
	return pipelinePath(pipelineID) + "/triggers/" + url.PathEscape(triggerID)
}

// ---- Internal helpers ----

func (c *Client) buildRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, target any, resource, id string) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := c.buildRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	return c.do(req, target, resource, id)
}

func (c *Client) do(req *http.Request, target any, resource, id string) error {
	op := req.Method + " " + req.URL.Path
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "op", op, "request_id", req.Header.Get("X-Request-ID"), "error", err)
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", req.Header.Get("X-Request-ID"),
	)

	if resp.StatusCode >= 400 {
		return statusError(op, resp, resource, id)
	}

	if resp.StatusCode == http.StatusNoContent || target == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return &TransportError{Op: "decode", StatusCode: resp.StatusCode, Err: errors.New("empty response body")}
		}
		return &TransportError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

// errorBody matches the {"error": "...", "field": "..."} shape returned by the API.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	Field  string `json:"field"`
}

func statusError(op string, resp *http.Response, resource, id string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	msg := eb.Error
	if msg == "" {
		msg = eb.Detail
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &NotFoundError{Resource: resource, ID: id}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationError{Field: eb.Field, Message: msg}
	default:
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
}
