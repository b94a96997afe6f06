package tuya

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tuya-lights/internal/domain"
	"tuya-lights/internal/infra"
)

// ErrAPI is wrapped by every error the OpenAPI reports with success=false.
var ErrAPI = errors.New("tuya api error")

type Client struct {
	clientID   string
	secret     string
	baseURL    string
	httpClient *http.Client
	retry      infra.RetryConfig
	nonce      func() string

	mu       sync.RWMutex
	token    string
	expireAt time.Time
	uid      string
}

func NewClient(clientID, secret, region string) *Client {
	baseURL := "https://openapi.tuyaus.com"
	switch strings.ToLower(region) {
	case "eu":
		baseURL = "https://openapi.tuyaeu.com"
	case "cn":
		baseURL = "https://openapi.tuyacn.com"
	case "in":
		baseURL = "https://openapi.tuyain.com"
	}

	return NewClientWithURL(clientID, secret, baseURL)
}

func NewClientWithURL(clientID, secret, baseURL string) *Client {
	return &Client{
		clientID:   clientID,
		secret:     secret,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      infra.DefaultRetryConfig(),
		nonce:      uuid.NewString,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
}

func (e envelope) err() error {
	if e.Success {
		return nil
	}
	return fmt.Errorf("%w: code %d: %s", ErrAPI, e.Code, e.Msg)
}

// SendCommands posts one batch of function writes. The request is attempted
// once; callers decide what a failure means.
func (c *Client) SendCommands(ctx context.Context, deviceID string, commands []domain.DeviceStatus) error {
	body, err := json.Marshal(map[string]any{"commands": commands})
	if err != nil {
		return fmt.Errorf("encoding commands: %w", err)
	}

	path := fmt.Sprintf("/v1.0/iot-03/devices/%s/commands", url.PathEscape(deviceID))
	if _, err := c.call(ctx, http.MethodPost, path, body, false); err != nil {
		return fmt.Errorf("sending commands: %w", err)
	}
	return nil
}

type deviceEntry struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Category  string                `json:"category"`
	ProductID string                `json:"product_id"`
	Online    bool                  `json:"online"`
	Status    []domain.DeviceStatus `json:"status"`
}

// GetDevices lists every device linked to the cloud project, with its current
// status but without functions.
func (c *Client) GetDevices(ctx context.Context) ([]domain.Device, error) {
	var devices []domain.Device
	lastRowKey := ""

	for {
		q := url.Values{}
		q.Set("size", "100")
		if lastRowKey != "" {
			q.Set("last_row_key", lastRowKey)
		}

		result, err := c.call(ctx, http.MethodGet, "/v1.0/iot-01/associated-users/devices?"+q.Encode(), nil, true)
		if err != nil {
			return nil, fmt.Errorf("fetching devices: %w", err)
		}

		var page struct {
			Devices    []deviceEntry `json:"devices"`
			HasMore    bool          `json:"has_more"`
			LastRowKey string        `json:"last_row_key"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			return nil, fmt.Errorf("parsing devices: %w", err)
		}

		for _, d := range page.Devices {
			devices = append(devices, domain.Device{
				ID:        d.ID,
				Name:      d.Name,
				Category:  d.Category,
				ProductID: d.ProductID,
				Type:      categoryToType(d.Category),
				Online:    d.Online,
				Status:    d.Status,
			})
		}

		if !page.HasMore || page.LastRowKey == "" || page.LastRowKey == lastRowKey {
			break
		}
		lastRowKey = page.LastRowKey
	}

	return devices, nil
}

// GetDeviceFunctions returns the instruction set a device accepts.
func (c *Client) GetDeviceFunctions(ctx context.Context, deviceID string) ([]domain.DeviceFunction, error) {
	path := fmt.Sprintf("/v1.0/iot-03/devices/%s/functions", url.PathEscape(deviceID))
	result, err := c.call(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, fmt.Errorf("fetching functions: %w", err)
	}

	var payload struct {
		Functions []struct {
			Code   string `json:"code"`
			Type   string `json:"type"`
			Values string `json:"values"`
		} `json:"functions"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("parsing functions: %w", err)
	}

	functions := make([]domain.DeviceFunction, 0, len(payload.Functions))
	for _, f := range payload.Functions {
		functions = append(functions, domain.DeviceFunction{
			Code:   f.Code,
			Type:   domain.FunctionType(f.Type),
			Values: f.Values,
		})
	}
	return functions, nil
}

// call performs a signed request and unwraps the response envelope.
func (c *Client) call(ctx context.Context, method, path string, body []byte, retry bool) (json.RawMessage, error) {
	resp, err := c.doRequest(ctx, method, path, body, retry)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(resp, &env); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	return env.Result, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, retry bool) ([]byte, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	cfg := c.retry
	if !retry {
		cfg.MaxAttempts = 1
	}

	var respBody []byte
	retryErr := infra.WithRetry(ctx, cfg, func() error {
		req, err := c.newSignedRequest(ctx, method, path, token, body)
		if err != nil {
			return infra.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if infra.IsRetryableHTTPStatus(resp.StatusCode) {
			return fmt.Errorf("tuya API error %d (retryable): %s", resp.StatusCode, string(respBody))
		}
		if resp.StatusCode >= 400 {
			return infra.Permanent(fmt.Errorf("tuya API error %d: %s", resp.StatusCode, string(respBody)))
		}

		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return respBody, nil
}

func (c *Client) newSignedRequest(ctx context.Context, method, path, token string, body []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	nonce := c.nonce()

	req.Header.Set("client_id", c.clientID)
	if token != "" {
		req.Header.Set("access_token", token)
	}
	req.Header.Set("sign", c.calcSign(timestamp, nonce, token, method, path, body))
	req.Header.Set("t", timestamp)
	req.Header.Set("nonce", nonce)
	req.Header.Set("sign_method", "HMAC-SHA256")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.RLock()
	if c.token != "" && time.Now().Add(5*time.Minute).Before(c.expireAt) {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Add(5*time.Minute).Before(c.expireAt) {
		return nil
	}

	req, err := c.newSignedRequest(ctx, http.MethodGet, "/v1.0/token?grant_type=1", "", nil)
	if err != nil {
		return fmt.Errorf("creating token request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading token response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parsing token response: %w", err)
	}
	if err := env.err(); err != nil {
		return fmt.Errorf("token: %w", err)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpireTime  int64  `json:"expire_time"`
		UID         string `json:"uid"`
	}
	if err := json.Unmarshal(env.Result, &token); err != nil {
		return fmt.Errorf("parsing token: %w", err)
	}

	c.token = token.AccessToken
	c.expireAt = time.Now().Add(time.Duration(token.ExpireTime) * time.Second)
	c.uid = token.UID

	return nil
}

// UID is the cloud user the token was issued for. Empty before the first request.
func (c *Client) UID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

func (c *Client) calcSign(timestamp, nonce, token, method, path string, body []byte) string {
	str := c.clientID + token + timestamp + nonce + c.stringToSign(method, path, body)
	h := hmac.New(sha256.New, []byte(c.secret))
	h.Write([]byte(str))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

func (c *Client) stringToSign(method, path string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	return method + "\n" + hex.EncodeToString(bodyHash[:]) + "\n\n" + path
}

func categoryToType(category string) domain.DeviceType {
	switch category {
	case "dj", "dd", "fwd", "xdd", "dc", "tgq", "tyndj", "gyd", "fsd", "sxd":
		return domain.DeviceTypeLight
	case "cz", "pc":
		return domain.DeviceTypePlug
	case "kg", "tdq":
		return domain.DeviceTypeSwitch
	case "wk", "wkf":
		return domain.DeviceTypeThermostat
	case "pir", "mcs", "ywbj", "rqbj", "jwbj":
		return domain.DeviceTypeSensor
	default:
		return domain.DeviceTypeOther
	}
}
