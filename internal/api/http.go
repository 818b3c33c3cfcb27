package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/tOgg1/opsdesk/internal/logging"
	"github.com/tOgg1/opsdesk/internal/models"
)

const defaultTimeout = 10 * time.Second

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL string
	UserID  int64
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// HTTPClient talks to the backend over fasthttp. It implements Client and
// the task store boundary.
type HTTPClient struct {
	baseURL string
	userID  int64
	timeout time.Duration
	http    *fasthttp.Client
	logger  zerolog.Logger
}

// NewHTTPClient validates cfg and builds a client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", logging.Redact(base))
	}
	if cfg.UserID <= 0 {
		return nil, models.ErrInvalidUser
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := logging.Component("api")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &HTTPClient{
		baseURL: base,
		userID:  cfg.UserID,
		timeout: timeout,
		http: &fasthttp.Client{
			Name:                "opsdesk",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// UserID returns the acting user id sent with every request.
func (c *HTTPClient) UserID() int64 { return c.userID }

func (c *HTTPClient) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var out []models.Channel
	if err := c.do(ctx, fasthttp.MethodGet, "/channels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, channelID int64, limit int) ([]models.Message, error) {
	path := channelPath(channelID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.Message
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateMessage(ctx context.Context, channelID int64, req CreateMessageRequest) (models.Message, error) {
	var out models.Message
	if err := c.do(ctx, fasthttp.MethodPost, channelPath(channelID)+"/messages", req, &out); err != nil {
		return models.Message{}, err
	}
	return out, nil
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, channelID int64, id models.MessageID) error {
	return c.do(ctx, fasthttp.MethodDelete, messagePath(channelID, id), nil, nil)
}

func (c *HTTPClient) PatchMessage(ctx context.Context, channelID int64, patch models.MessagePatch) (models.Message, error) {
	var out models.Message
	if err := c.do(ctx, fasthttp.MethodPatch, messagePath(channelID, patch.ID), patch, &out); err != nil {
		return models.Message{}, err
	}
	return out, nil
}

func (c *HTTPClient) GetOrCreateDM(ctx context.Context, userID int64) (models.Channel, error) {
	var out models.Channel
	if err := c.do(ctx, fasthttp.MethodPost, "/channels/dm", DirectChannelRequest{UserID: userID}, &out); err != nil {
		return models.Channel{}, err
	}
	return out, nil
}

func (c *HTTPClient) CreateChannel(ctx context.Context, req CreateChannelRequest) (models.Channel, error) {
	var out models.Channel
	if err := c.do(ctx, fasthttp.MethodPost, "/channels", req, &out); err != nil {
		return models.Channel{}, err
	}
	return out, nil
}

func (c *HTTPClient) DeleteChannel(ctx context.Context, channelID int64) error {
	return c.do(ctx, fasthttp.MethodDelete, channelPath(channelID), nil, nil)
}

func (c *HTTPClient) AddMember(ctx context.Context, channelID, userID int64) error {
	return c.do(ctx, fasthttp.MethodPost, channelPath(channelID)+"/members", MemberRequest{UserID: userID}, nil)
}

func (c *HTTPClient) RemoveMember(ctx context.Context, channelID, userID int64) error {
	return c.do(ctx, fasthttp.MethodDelete, channelPath(channelID)+"/members/"+strconv.FormatInt(userID, 10), nil, nil)
}

func (c *HTTPClient) ListTasks(ctx context.Context) ([]models.Task, error) {
	var out []models.Task
	if err := c.do(ctx, fasthttp.MethodGet, "/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) PatchTaskStatus(ctx context.Context, id int64, status models.TaskStatus) (models.Task, error) {
	var out models.Task
	path := "/tasks/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, fasthttp.MethodPatch, path, TaskStatusRequest{Status: status}, &out); err != nil {
		return models.Task{}, err
	}
	return out, nil
}

// do runs one request. fasthttp has no context support, so the context
// deadline (if sooner than the client timeout) bounds the call.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	requestID := uuid.NewString()
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-User-ID", strconv.FormatInt(c.userID, 10))
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	start := time.Now()
	err := c.http.DoDeadline(req, resp, deadline)
	if err != nil {
		c.logger.Debug().Err(err).
			Str("method", method).
			Str("path", logging.Redact(path)).
			Str("request_id", requestID).
			Msg("request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	c.logger.Trace().
		Str("method", method).
		Str("path", logging.Redact(path)).
		Int("status", status).
		Dur("elapsed", time.Since(start)).
		Str("request_id", requestID).
		Msg("request")

	if status < 200 || status >= 300 {
		return decodeError(status, resp.Body())
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func channelPath(channelID int64) string {
	return "/channels/" + strconv.FormatInt(channelID, 10)
}

func messagePath(channelID int64, id models.MessageID) string {
	return channelPath(channelID) + "/messages/" + url.PathEscape(id.String())
}
