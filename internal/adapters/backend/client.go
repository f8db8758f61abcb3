// Package backend uploads inference results to the EcoVision API and returns
// its authoritative classification.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/logger"
	"github.com/okian/ecovision/pkg/metrics"
)

// Default client configuration constants.
const (
	DefaultBaseURL    = "https://ecovision.bsite.net/api"
	DefaultTimeout    = 5 * time.Second
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 10 * time.Second
	DefaultMaxRetries = 3

	resultsPath       = "/results"
	registerPath      = "/Cliente/CrearCliente"
	loginPath         = "/Usuarios/ValidarLogin"
	idempotencyHeader = "Idempotency-Key"
)

// UploadRequest is the body of POST /results.
type UploadRequest struct {
	Fingerprint string    `json:"fingerprint"`
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// UploadResponse is the 200 body of POST /results.
type UploadResponse struct {
	Authoritative *model.Authoritative `json:"authoritative"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client talks to the backend over HTTP with retries for transient failures.
type Client struct {
	http       *resty.Client
	baseURL    string
	token      string
	timeout    time.Duration
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxRetries int
	logger     logger.Logger

	mu    sync.RWMutex
	creds *Credentials
}

// New constructs a client with configuration options.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		timeout:    DefaultTimeout,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		maxRetries: DefaultMaxRetries,
		logger:     logger.Get().Named("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(c.baseURL, "/")).
		SetTimeout(c.timeout).
		SetLogger(restyLogger{log: c.logger}).
		SetHeader("Accept", "application/json").
		SetRetryCount(c.maxRetries).
		SetRetryWaitTime(c.baseDelay).
		SetRetryMaxWaitTime(c.maxDelay).
		AddRetryCondition(retryable).
		AddRetryHook(func(r *resty.Response, err error) {
			metrics.RecordSyncRetry()
			attempt := 0
			if r != nil && r.Request != nil {
				attempt = r.Request.Attempt
			}
			c.logger.Debug(context.Background(), "retrying request", logger.Int("attempt", attempt), logger.Error(err))
		})
	if c.token != "" {
		c.http.SetAuthToken(c.token)
	}
	return c
}

// MaxAttempts is the number of requests a single Upload may issue.
func (c *Client) MaxAttempts() int { return c.maxRetries + 1 }

// retryable admits timeouts, dropped connections and 5xx responses, and never
// a request whose caller context is done.
func retryable(r *resty.Response, err error) bool {
	if r != nil && r.Request != nil && r.Request.Context().Err() != nil {
		return false
	}
	if err != nil {
		return isTimeout(err) || isTransport(err)
	}
	return r != nil && r.StatusCode() >= http.StatusInternalServerError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isTransport reports failures where no response arrived: resets, refused
// connections, connections closed mid-exchange.
func isTransport(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var urlErr *url.Error
	var opErr *net.OpError
	return errors.As(err, &urlErr) || errors.As(err, &opErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func attemptsOf(resp *resty.Response) int {
	if resp != nil && resp.Request != nil && resp.Request.Attempt > 0 {
		return resp.Request.Attempt
	}
	return 1
}

// failure classifies a finished request. It returns nil for 200 and 201.
func failure(op string, resp *resty.Response, err error, apiErr errorBody) error {
	attempts := attemptsOf(resp)
	if err != nil {
		kind := KindNetwork
		if isTimeout(err) {
			kind = KindTimeout
		}
		return &SyncError{Op: op, Kind: kind, Attempts: attempts, Err: err}
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusOK || code == http.StatusCreated:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &SyncError{Op: op, Kind: KindUnauthorized, Code: code, Attempts: attempts, Err: describe(apiErr)}
	case code >= http.StatusInternalServerError:
		return &SyncError{Op: op, Kind: KindServerError, Code: code, Attempts: attempts, Err: describe(apiErr)}
	default:
		return &SyncError{Op: op, Kind: KindClientError, Code: code, Attempts: attempts, Err: describe(apiErr)}
	}
}

// Upload posts r and returns the backend's authoritative classification.
// Failures are *SyncError. If ctx ends first the context error is returned.
func (c *Client) Upload(ctx context.Context, r model.InferenceResult) (model.Authoritative, error) {
	var body UploadResponse
	var apiErr errorBody

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(idempotencyHeader, uuid.NewString()).
		SetBody(UploadRequest{
			Fingerprint: string(r.Fingerprint),
			Label:       r.Label,
			Confidence:  r.Confidence,
			Timestamp:   r.Timestamp.UTC(),
		}).
		SetResult(&body).
		SetError(&apiErr).
		Post(resultsPath)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.Authoritative{}, ctxErr
	}
	if err := failure(OpUpload, resp, err, apiErr); err != nil {
		return model.Authoritative{}, err
	}
	if body.Authoritative == nil {
		return model.Authoritative{}, &SyncError{Op: OpUpload, Kind: KindProtocol, Code: resp.StatusCode(),
			Attempts: attemptsOf(resp), Err: errors.New("response has no authoritative result")}
	}
	return *body.Authoritative, nil
}

func describe(b errorBody) error {
	if b.Error == "" {
		return nil
	}
	return errors.New(b.Error)
}

// restyLogger routes resty's own diagnostics through the service logger.
type restyLogger struct {
	log logger.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}
