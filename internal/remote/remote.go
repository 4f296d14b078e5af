// Package remote is the client for the remote order service, a PostgREST
// endpoint holding the received-orders table.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
	"github.com/mare-catalogo/backend/internal/logging"
	"github.com/mare-catalogo/backend/internal/models"
)

// DefaultTable is the received-orders table.
const DefaultTable = "pedidos_recibidos"

// uniqueViolation is the Postgres error code for a duplicate key.
const uniqueViolation = "23505"

// Config holds remote order service settings.
type Config struct {
	URL          string
	AnonKey      string
	Table        string
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// OrderService is the subset of the client the queue and monitor need.
type OrderService interface {
	Insert(ctx context.Context, order models.Order) (*models.Order, error)
	TestConnection(ctx context.Context) bool
}

// Client talks to the PostgREST API.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logging.Logger
}

// New creates a client. A nil httpClient uses a fresh http.Client.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, log: logging.Named("remote")}
}

// Configured reports whether a URL and key were provided.
func (c *Client) Configured() bool {
	return c.cfg.URL != "" && c.cfg.AnonKey != ""
}

// insertRow mirrors the column set written on insert. Optional text
// columns are sent as empty strings rather than omitted.
type insertRow struct {
	Number        string            `json:"numero"`
	ClientName    string            `json:"cliente_nombre"`
	ClientPhone   string            `json:"cliente_telefono"`
	ClientAddress string            `json:"cliente_direccion"`
	OrderedAt     time.Time         `json:"fecha_pedido"`
	Status        string            `json:"estado"`
	Origin        string            `json:"origen"`
	Items         []models.LineItem `json:"productos"`
	FinalComment  string            `json:"comentario_final"`
	Total         float64           `json:"total"`
	Backup        json.RawMessage   `json:"datos_respaldo"`
}

// postgrestError is the error body PostgREST returns.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// Insert writes one order and returns the stored row. A duplicate order
// number yields an ORDER_DUPLICATE error; callers treat it as delivered.
func (c *Client) Insert(ctx context.Context, order models.Order) (*models.Order, error) {
	if !c.Configured() {
		return nil, apperrors.New(apperrors.ErrRemoteNotConfigured, "remote order service URL or key missing")
	}

	order.Normalize(time.Now())
	row := insertRow{
		Number:        order.Number,
		ClientName:    order.ClientName,
		ClientPhone:   order.ClientPhone,
		ClientAddress: order.ClientAddress,
		OrderedAt:     order.OrderedAt,
		Status:        order.Status,
		Origin:        order.Origin,
		Items:         order.Items,
		FinalComment:  order.FinalComment,
		Total:         order.Total,
		Backup:        order.Backup,
	}
	body, err := json.Marshal([]insertRow{row})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode order", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, c.tableURL(nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	c.log.Info("Sending order", logging.Fields{
		"numero": order.Number,
		"lines":  len(order.Items),
		"total":  order.Total,
	})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "insert request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "failed to read insert response", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, c.statusError("insert", resp.StatusCode, data)
	}

	var rows []models.Order
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteRejected, "unexpected insert response", err)
	}
	if len(rows) != 1 {
		return nil, apperrors.New(apperrors.ErrRemoteRejected,
			fmt.Sprintf("insert returned %d rows, want 1", len(rows)))
	}

	c.log.Info("Order stored", logging.Fields{"numero": rows[0].Number, "id": rows[0].ID})
	return &rows[0], nil
}

// Ping performs the cheap read-only probe.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return apperrors.New(apperrors.ErrRemoteNotConfigured, "remote order service URL or key missing")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	q := url.Values{"select": {"count"}, "limit": {"1"}}
	req, err := c.newRequest(ctx, http.MethodGet, c.tableURL(q), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "probe failed", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError("probe", resp.StatusCode, data)
	}
	return nil
}

// TestConnection reports whether the remote order service is reachable.
func (c *Client) TestConnection(ctx context.Context) bool {
	if err := c.Ping(ctx); err != nil {
		c.log.Warn("Remote order service unreachable", logging.Fields{"error": err.Error()})
		return false
	}
	return true
}

// ListReceived returns orders still in the received state, newest first.
func (c *Client) ListReceived(ctx context.Context) ([]models.Order, error) {
	if !c.Configured() {
		return nil, apperrors.New(apperrors.ErrRemoteNotConfigured, "remote order service URL or key missing")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	q := url.Values{
		"select": {"*"},
		"estado": {"eq." + models.StatusReceived},
		"order":  {"created_at.desc"},
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.tableURL(q), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "list request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "failed to read list response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("list", resp.StatusCode, data)
	}

	var orders []models.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteRejected, "unexpected list response", err)
	}
	return orders, nil
}

// IsDuplicate reports whether err means the order number already exists
// remotely.
func IsDuplicate(err error) bool {
	return apperrors.Is(err, apperrors.ErrOrderDuplicate)
}

func (c *Client) tableURL(q url.Values) string {
	u := c.cfg.URL + "/rest/v1/" + c.cfg.Table
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.AnonKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// statusError classifies a non-success response.
func (c *Client) statusError(op string, status int, body []byte) error {
	var pgErr postgrestError
	_ = json.Unmarshal(body, &pgErr)

	msg := fmt.Sprintf("%s returned HTTP %d", op, status)
	if pgErr.Message != "" {
		msg += ": " + pgErr.Message
	}

	switch {
	case status == http.StatusConflict || pgErr.Code == uniqueViolation:
		return apperrors.New(apperrors.ErrOrderDuplicate, msg)
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return apperrors.New(apperrors.ErrRemoteUnavailable, msg)
	default:
		return apperrors.New(apperrors.ErrRemoteRejected, msg)
	}
}
