package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIError Binance REST 错误响应 {"code":-2014,"msg":"..."}
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("binance http %d: %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("binance http %d: code %d: %s", e.Status, e.Code, e.Msg)
}

// signedRequest is shared helper for signed REST calls.
func (c *APIClient) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if params.Get("recvWindow") == "" {
		params.Set("recvWindow", "5000")
	}

	query := params.Encode()
	query += "&signature=" + c.credentials.Sign(query)
	return c.do(ctx, method, path, query, true)
}

// keyedRequest carries the API key header without a signature (USER_STREAM endpoints).
func (c *APIClient) keyedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, method, path, params.Encode(), true)
}

func (c *APIClient) publicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params.Encode(), false)
}

func (c *APIClient) do(ctx context.Context, method, path, query string, withKey bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: rate limit: %w", method, path, err)
	}

	endpoint := c.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if withKey {
		req.Header.Set("X-MBX-APIKEY", c.credentials.APIKey())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Msg != "" {
		apiErr.Code = payload.Code
		apiErr.Msg = payload.Msg
		return apiErr
	}
	apiErr.Msg = string(body)
	return apiErr
}
