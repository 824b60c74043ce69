package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slotbook/internal/models"

	"github.com/redis/go-redis/v9"
)

// APIError is a non-2xx answer from the slotbook API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Slot    string `json:"slot"`
}

func (e *APIError) Error() string {
	if e.Slot != "" {
		return fmt.Sprintf("http %d %s: %s (slot %s)", e.Status, e.Code, e.Message, e.Slot)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client calls the slotbook HTTP API. Operator calls need an API key and extra secret.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// ReserveRequest mirrors the POST /api/v1/bookings body.
type ReserveRequest struct {
	Date    string         `json:"date"`
	Hours   []int          `json:"hours"`
	Contact models.Contact `json:"contact"`
	Notes   string         `json:"notes,omitempty"`
}

// DrainResult is what an operator drain returns.
type DrainResult struct {
	Slot     models.SlotID                `json:"slot"`
	Requests []models.NotificationRequest `json:"requests"`
}

func New(baseURL, apiKey, apiExtra string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache caches day grids for ttl. Any booking call through this client
// evicts the affected date.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// Grid fetches the 15 slots of date (YYYY-MM-DD).
func (c *Client) Grid(ctx context.Context, date string) (*models.Grid, error) {
	endpoint := fmt.Sprintf("%s/api/v1/slots?date=%s", c.baseURL, url.QueryEscape(date))
	cacheKey := gridCacheKey(date)

	var grid models.Grid
	if c.readCache(ctx, cacheKey, &grid) {
		return &grid, nil
	}

	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &grid); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, grid)
	return &grid, nil
}

func (c *Client) Reserve(ctx context.Context, req ReserveRequest) (*models.Booking, error) {
	var booking models.Booking
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/bookings", req, &booking)
	c.evict(ctx, req.Date)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (c *Client) Booking(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	endpoint := fmt.Sprintf("%s/api/v1/bookings/%s", c.baseURL, url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListBookings lists bookings for operators. Empty arguments are not filtered on.
func (c *Client) ListBookings(ctx context.Context, status models.BookingStatus, from, to string) ([]*models.Booking, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", string(status))
	}
	if from != "" {
		params.Set("from", from)
	}
	if to != "" {
		params.Set("to", to)
	}
	endpoint := c.baseURL + "/api/v1/admin/bookings"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var res struct {
		Bookings []*models.Booking `json:"bookings"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &res); err != nil {
		return nil, err
	}
	return res.Bookings, nil
}

// Cancel cancels as the customer.
func (c *Client) Cancel(ctx context.Context, id string) (*models.Booking, error) {
	return c.transition(ctx, fmt.Sprintf("/api/v1/bookings/%s/cancel", url.PathEscape(id)))
}

func (c *Client) Confirm(ctx context.Context, id string) (*models.Booking, error) {
	return c.transition(ctx, fmt.Sprintf("/api/v1/admin/bookings/%s/confirm", url.PathEscape(id)))
}

func (c *Client) OperatorCancel(ctx context.Context, id string) (*models.Booking, error) {
	return c.transition(ctx, fmt.Sprintf("/api/v1/admin/bookings/%s/cancel", url.PathEscape(id)))
}

func (c *Client) Expire(ctx context.Context, id string) (*models.Booking, error) {
	return c.transition(ctx, fmt.Sprintf("/api/v1/admin/bookings/%s/expire", url.PathEscape(id)))
}

// Notify asks to hear when an occupied slot frees up.
func (c *Client) Notify(ctx context.Context, slot models.SlotID, email, phone string) (*models.NotificationRequest, error) {
	body := map[string]string{"slot_id": slot.String(), "email": email, "phone": phone}
	var req models.NotificationRequest
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/notifications", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *Client) Drain(ctx context.Context, slot models.SlotID) (*DrainResult, error) {
	endpoint := fmt.Sprintf("%s/api/v1/admin/notifications/%s/drain", c.baseURL, url.PathEscape(slot.String()))
	var res DrainResult
	if err := c.doJSON(ctx, http.MethodPost, endpoint, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) transition(ctx context.Context, path string) (*models.Booking, error) {
	var booking models.Booking
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+path, nil, &booking); err != nil {
		return nil, err
	}
	c.evict(ctx, booking.Date)
	return &booking, nil
}

func gridCacheKey(date string) string {
	return "grid:" + date
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) evict(ctx context.Context, date string) {
	if c.redis == nil || date == "" {
		return
	}
	_ = c.redis.Del(ctx, gridCacheKey(date)).Err()
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}
