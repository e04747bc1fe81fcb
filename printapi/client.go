// Package printapi is the REST client for the printer fleet API.
package printapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultAuthPath = "/broadcasting/auth"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://fleet.example.com.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// AuthPath is the private channel signing endpoint.
	AuthPath   string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Logger     pslog.Logger
}

// Client talks to the fleet API. It implements the window, status and
// recovery dependencies of the telemetry core and signs private broker
// channels.
type Client struct {
	baseURL   *url.URL
	token     string
	authPath  string
	userAgent string
	http      *http.Client
	log       pslog.Logger
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("api base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https (got %q)", raw)
	}
	log := logx.Or(cfg.Logger).With("component", "printapi")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	authPath := strings.TrimSpace(cfg.AuthPath)
	if authPath == "" {
		authPath = defaultAuthPath
	}
	wrapped := *httpClient
	wrapped.Transport = withRequestLogging(httpClient.Transport, log)
	return &Client{
		baseURL:   base,
		token:     strings.TrimSpace(cfg.Token),
		authPath:  authPath,
		userAgent: cfg.UserAgent,
		http:      &wrapped,
		log:       log,
	}, nil
}

type gcodeResponse struct {
	GCode string `json:"gcode"`
}

// FetchWindow loads the G-code lines in window.
func (c *Client) FetchWindow(ctx context.Context, printer schema.PrinterID, window schema.LineWindow) (string, error) {
	query := url.Values{}
	query.Set("start", strconv.Itoa(window.Min))
	query.Set("end", strconv.Itoa(window.Max))
	var out gcodeResponse
	if err := c.doJSON(ctx, http.MethodGet, printerPath(printer, "gcode"), query, nil, &out); err != nil {
		return "", fmt.Errorf("fetch gcode %d-%d: %w", window.Min, window.Max, err)
	}
	return out.GCode, nil
}

// ConnectionStatus loads the latest heartbeat snapshot.
func (c *Client) ConnectionStatus(ctx context.Context, printer schema.PrinterID) (schema.ConnectionSnapshot, error) {
	var out schema.ConnectionSnapshot
	if err := c.doJSON(ctx, http.MethodGet, printerPath(printer, "connection"), nil, nil, &out); err != nil {
		return schema.ConnectionSnapshot{}, fmt.Errorf("connection status: %w", err)
	}
	return out, nil
}

// PrintStatus loads the print job snapshot.
func (c *Client) PrintStatus(ctx context.Context, printer schema.PrinterID) (schema.PrintStatus, error) {
	var out schema.PrintStatus
	if err := c.doJSON(ctx, http.MethodGet, printerPath(printer, "print-status"), nil, nil, &out); err != nil {
		return schema.PrintStatus{}, fmt.Errorf("print status: %w", err)
	}
	out.PrinterID = printer
	return out, nil
}

type recoveryConfigResponse struct {
	BackupInterval *int `json:"backupInterval"`
}

// BackupInterval loads the printer's backup interval enum code.
func (c *Client) BackupInterval(ctx context.Context, printer schema.PrinterID) (int, error) {
	var out recoveryConfigResponse
	if err := c.doJSON(ctx, http.MethodGet, printerPath(printer, "recovery", "config"), nil, nil, &out); err != nil {
		return 0, fmt.Errorf("recovery config: %w", err)
	}
	if out.BackupInterval == nil {
		return 0, errors.New("recovery config: missing backupInterval")
	}
	return *out.BackupInterval, nil
}

// Enum loads a server enum as a name to code map.
func (c *Client) Enum(ctx context.Context, name string) (schema.Enum, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("enum name is required")
	}
	var out struct {
		Values schema.Enum `json:"values"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/enums/"+url.PathEscape(name), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("enum %s: %w", name, err)
	}
	if out.Values == nil {
		out.Values = schema.Enum{}
	}
	return out.Values, nil
}

type resumeRequest struct {
	Line int `json:"line"`
}

// ResumeFromLine resumes the interrupted job from line.
func (c *Client) ResumeFromLine(ctx context.Context, printer schema.PrinterID, line int) error {
	if line < 0 {
		return fmt.Errorf("resume line must be non-negative (got %d)", line)
	}
	if err := c.doJSON(ctx, http.MethodPost, printerPath(printer, "recovery"), nil, resumeRequest{Line: line}, nil); err != nil {
		return fmt.Errorf("resume from line %d: %w", line, err)
	}
	return nil
}

// CancelRecovery discards the interrupted job.
func (c *Client) CancelRecovery(ctx context.Context, printer schema.PrinterID) error {
	if err := c.doJSON(ctx, http.MethodDelete, printerPath(printer, "recovery"), nil, nil, nil); err != nil {
		return fmt.Errorf("cancel recovery: %w", err)
	}
	return nil
}

type authResponse struct {
	Auth string `json:"auth"`
}

// Authorize signs a private channel subscription for socketID.
func (c *Client) Authorize(ctx context.Context, socketID string, channel string) (string, error) {
	form := url.Values{}
	form.Set("socket_id", socketID)
	form.Set("channel_name", channel)
	req, err := c.newRequest(ctx, http.MethodPost, c.authPath, nil, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var out authResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("authorize %s: %w", channel, err)
	}
	if out.Auth == "" {
		return "", fmt.Errorf("authorize %s: empty signature", channel)
	}
	return out.Auth, nil
}

func printerPath(printer schema.PrinterID, parts ...string) string {
	segments := append([]string{"api", "printers", url.PathEscape(string(printer))}, parts...)
	return "/" + strings.Join(segments, "/")
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	if c == nil || c.http == nil {
		return errors.New("api client not initialized")
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	reqURL := *c.baseURL
	reqURL.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + endpoint
	unescaped, err := url.PathUnescape(reqURL.RawPath)
	if err != nil {
		return nil, fmt.Errorf("api path %q: %w", endpoint, err)
	}
	reqURL.Path = unescaped
	if query != nil {
		reqURL.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return readAPIError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
