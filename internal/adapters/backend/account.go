package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/ecovision/pkg/logger"
)

// Credentials identify an EcoVision account.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the body of POST /Cliente/CrearCliente. The wire names are
// the backend's.
type Registration struct {
	FirstNames string `json:"nombres"`
	LastNames  string `json:"apellidos"`
	Email      string `json:"correo"`
	Phone      string `json:"telefono"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (r Registration) validate() error {
	for _, v := range []string{r.FirstNames, r.LastNames, r.Email, r.Phone, r.Username, r.Password} {
		if strings.TrimSpace(v) == "" {
			return ErrIncompleteRegistration
		}
	}
	return nil
}

// Register creates a backend account. Every field is required.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	if err := reg.validate(); err != nil {
		return err
	}

	var apiErr errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(idempotencyHeader, uuid.NewString()).
		SetBody(reg).
		SetError(&apiErr).
		Post(registerPath)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err := failure(OpRegister, resp, err, apiErr); err != nil {
		return err
	}
	c.logger.Info(ctx, "account registered", logger.String("username", reg.Username))
	return nil
}

// Login validates creds against the backend. A 200 whose body is null means
// the credentials were not recognised and is reported as KindUnauthorized.
// On success the credentials are kept for Revalidate.
func (c *Client) Login(ctx context.Context, creds Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return ErrNoCredentials
	}

	var apiErr errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(creds).
		SetError(&apiErr).
		Post(loginPath)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err := failure(OpLogin, resp, err, apiErr); err != nil {
		return err
	}
	if body := strings.TrimSpace(resp.String()); body == "" || body == "null" {
		return &SyncError{Op: OpLogin, Kind: KindUnauthorized, Code: resp.StatusCode(), Attempts: attemptsOf(resp),
			Err: errors.New("credentials not recognised")}
	}

	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()
	return nil
}

// Revalidate repeats Login with the last accepted (or configured) credentials.
func (c *Client) Revalidate(ctx context.Context) error {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	if creds == nil {
		return ErrNoCredentials
	}
	return c.Login(ctx, *creds)
}
