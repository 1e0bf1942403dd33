package resideo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.honeywell.com"
	requestTimeout = 15 * time.Second
)

// TokenSource supplies bearer tokens and accepts refresh requests after a 401.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	TriggerRefresh(ctx context.Context)
}

// Client talks to the Resideo (Honeywell Home) REST API.
type Client struct {
	baseURL    string
	apiKey     string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, tokens TokenSource, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, tokens: tokens, httpClient: httpClient}
}

func (c *Client) Locations(ctx context.Context) ([]Location, error) {
	var out []Location
	err := c.getJSON(ctx, "locations", "/v2/locations", nil, &out)
	return out, err
}

func (c *Client) Devices(ctx context.Context, locationID int) ([]Device, error) {
	var out []Device
	err := c.getJSON(ctx, "devices", "/v2/devices", location(locationID), &out)
	return out, err
}

func (c *Client) Thermostat(ctx context.Context, deviceID string, locationID int) (Device, error) {
	var out Device
	err := c.getJSON(ctx, "thermostat", thermostatPath(deviceID), location(locationID), &out)
	return out, err
}

func (c *Client) SetThermostat(ctx context.Context, deviceID string, locationID int, cmd ThermostatCommand) error {
	return c.sendJSON(ctx, "set thermostat", http.MethodPost, thermostatPath(deviceID), location(locationID), cmd)
}

func (c *Client) Fan(ctx context.Context, deviceID string, locationID int) (FanStatus, error) {
	var out FanStatus
	err := c.getJSON(ctx, "fan", thermostatPath(deviceID)+"/fan", location(locationID), &out)
	return out, err
}

func (c *Client) SetFan(ctx context.Context, deviceID string, locationID int, mode string) error {
	payload := map[string]string{"mode": mode}
	return c.sendJSON(ctx, "set fan", http.MethodPost, thermostatPath(deviceID)+"/fan", location(locationID), payload)
}

func (c *Client) Priority(ctx context.Context, deviceID string, locationID int) (Priority, error) {
	var out Priority
	err := c.getJSON(ctx, "priority", thermostatPath(deviceID)+"/priority", location(locationID), &out)
	return out, err
}

func (c *Client) SetPriority(ctx context.Context, deviceID string, locationID int, priority CurrentPriority) error {
	payload := map[string]any{"currentPriority": priority}
	return c.sendJSON(ctx, "set priority", http.MethodPut, thermostatPath(deviceID)+"/priority", location(locationID), payload)
}

func (c *Client) RoomGroup(ctx context.Context, deviceID string, locationID, groupID int) (RoomGroup, error) {
	var out RoomGroup
	path := fmt.Sprintf("%s/group/%d/rooms", thermostatPath(deviceID), groupID)
	err := c.getJSON(ctx, "rooms", path, location(locationID), &out)
	return out, err
}

func (c *Client) LeakDetector(ctx context.Context, deviceID string, locationID int) (Device, error) {
	var out Device
	err := c.getJSON(ctx, "leak detector", "/v2/devices/waterLeakDetectors/"+url.PathEscape(deviceID), location(locationID), &out)
	return out, err
}

func (c *Client) ShutoffValve(ctx context.Context, deviceID string, locationID int) (Device, error) {
	var out Device
	err := c.getJSON(ctx, "valve", valvePath(deviceID), location(locationID), &out)
	return out, err
}

func (c *Client) SetShutoffValve(ctx context.Context, deviceID string, locationID int, open bool) error {
	state := "closed"
	if open {
		state = "open"
	}
	return c.sendJSON(ctx, "set valve", http.MethodPost, valvePath(deviceID), location(locationID), map[string]string{"state": state})
}

func thermostatPath(deviceID string) string {
	return "/v2/devices/thermostats/" + url.PathEscape(deviceID)
}

func valvePath(deviceID string) string {
	return "/v2/devices/shutoffValves/" + url.PathEscape(deviceID)
}

func location(id int) url.Values {
	return url.Values{"locationId": {strconv.Itoa(id)}}
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	resp, err := c.doRequest(ctx, op, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("resideo %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, op, method, path string, query url.Values, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, op, method, path, query, body)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// doRequest returns the response only for 2xx statuses.
func (c *Client) doRequest(ctx context.Context, op, method, path string, query url.Values, body []byte) (*http.Response, error) {
	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("resideo %s: %w", op, err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", c.apiKey)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resideo %s: %w", op, err)
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	apiErrorsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.TriggerRefresh(ctx)
	}
	return nil, &APIError{Op: op, Status: resp.StatusCode, Body: string(data)}
}
