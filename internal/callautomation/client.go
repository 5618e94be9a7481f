package callautomation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiVersion = "2024-04-15"

// Client is a REST client for the Call Automation service. Requests are
// authenticated with the HMAC scheme derived from the connection string
// access key.
type Client struct {
	endpoint   *url.URL
	accessKey  []byte
	httpClient *http.Client
	now        func() time.Time
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client from a connection string of the form
// "endpoint=https://...;accesskey=<base64>".
func NewClient(connectionString string, opts ...ClientOption) (*Client, error) {
	endpoint, key, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:   endpoint,
		accessKey:  key,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseConnectionString(s string) (*url.URL, []byte, error) {
	var endpoint string
	var key string
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, nil, fmt.Errorf("callautomation: malformed connection string segment %q", k)
		}
		switch strings.ToLower(k) {
		case "endpoint":
			endpoint = v
		case "accesskey":
			key = v
		}
	}
	if endpoint == "" || key == "" {
		return nil, nil, errors.New("callautomation: connection string must contain endpoint and accesskey")
	}

	u, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return nil, nil, fmt.Errorf("callautomation: invalid endpoint: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, nil, fmt.Errorf("callautomation: access key is not valid base64: %w", err)
	}
	return u, decoded, nil
}

// AnswerCall answers an incoming call, optionally starting media streaming
// toward the websocket transport.
func (c *Client) AnswerCall(ctx context.Context, req AnswerCallRequest) (AnswerCallResult, error) {
	if req.IncomingCallContext == "" {
		return AnswerCallResult{}, errors.New("callautomation: incoming call context is required")
	}
	if req.CallbackURL == "" {
		return AnswerCallResult{}, errors.New("callautomation: callback url is required")
	}

	body := map[string]any{
		"incomingCallContext": req.IncomingCallContext,
		"callbackUri":         req.CallbackURL,
	}
	if req.TransportURL != "" {
		body["mediaStreamingOptions"] = map[string]any{
			"transportUrl":        req.TransportURL,
			"transportType":       "websocket",
			"contentType":         "audio",
			"audioChannelType":    "mixed",
			"startMediaStreaming": true,
		}
	}

	var props struct {
		CallConnectionID string `json:"callConnectionId"`
		CorrelationID    string `json:"correlationId"`
	}
	if err := c.do(ctx, http.MethodPost, "/calling/callConnections:answer", nil, body, &props); err != nil {
		return AnswerCallResult{}, err
	}
	if props.CallConnectionID == "" {
		return AnswerCallResult{}, errors.New("callautomation: answer response missing callConnectionId")
	}

	return AnswerCallResult{
		CallConnectionID: props.CallConnectionID,
		CorrelationID:    props.CorrelationID,
		Media:            c.Connection(props.CallConnectionID),
	}, nil
}

// Connection returns the media channel for a known call connection id.
func (c *Client) Connection(callConnectionID string) *CallConnection {
	return &CallConnection{client: c, id: callConnectionID}
}

// CallConnection drives media operations for one answered call.
type CallConnection struct {
	client *Client
	id     string
}

func (cc *CallConnection) PlayToAll(ctx context.Context, req PlayRequest) error {
	body := map[string]any{
		"playSources": []any{textSource(req.Text, req.VoiceName)},
		"playTo":      []any{},
	}
	if req.OperationContext != "" {
		body["operationContext"] = req.OperationContext
	}
	return cc.client.do(ctx, http.MethodPost, cc.path(":play"), nil, body, nil)
}

func (cc *CallConnection) StartRecognizing(ctx context.Context, req RecognizeRequest) error {
	if req.TargetParticipant == "" {
		return errors.New("callautomation: recognize target participant is required")
	}
	body := map[string]any{
		"recognizeInputType": "speech",
		"playPrompt":         textSource(req.PromptText, req.VoiceName),
		"recognizeOptions": map[string]any{
			"interruptPrompt":               req.InterruptPrompt,
			"initialSilenceTimeoutInSeconds": int(req.InitialSilenceTimeout.Seconds()),
			"targetParticipant":             map[string]any{"rawId": req.TargetParticipant},
			"speechOptions": map[string]any{
				"endSilenceTimeoutInMs": req.EndSilenceTimeout.Milliseconds(),
			},
		},
	}
	if req.OperationContext != "" {
		body["operationContext"] = req.OperationContext
	}
	return cc.client.do(ctx, http.MethodPost, cc.path(":recognize"), nil, body, nil)
}

func (cc *CallConnection) TransferToParticipant(ctx context.Context, phoneNumber string) error {
	if phoneNumber == "" {
		return errors.New("callautomation: transfer target phone number is required")
	}
	body := map[string]any{
		"targetParticipant": map[string]any{
			"kind":        "phoneNumber",
			"rawId":       "4:" + phoneNumber,
			"phoneNumber": map[string]any{"value": phoneNumber},
		},
	}
	return cc.client.do(ctx, http.MethodPost, cc.path(":transferToParticipant"), nil, body, nil)
}

func (cc *CallConnection) HangUp(ctx context.Context, forEveryone bool) error {
	q := url.Values{}
	if forEveryone {
		q.Set("isForEveryone", "true")
	}
	return cc.client.do(ctx, http.MethodDelete, cc.path(""), q, nil, nil)
}

func (cc *CallConnection) path(op string) string {
	return "/calling/callConnections/" + url.PathEscape(cc.id) + op
}

func textSource(text, voiceName string) map[string]any {
	return map[string]any{
		"kind": "text",
		"text": map[string]any{
			"text":      text,
			"voiceName": voiceName,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", apiVersion)

	u := *c.endpoint
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("callautomation: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, payload)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callautomation: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("callautomation: decode response: %w", err)
		}
	}
	return nil
}

// sign applies the shared-key HMAC scheme: the signature covers the verb,
// the path+query, the date, the host and the body hash.
func (c *Client) sign(req *http.Request, body []byte) {
	contentHash := sha256.Sum256(body)
	contentHashB64 := base64.StdEncoding.EncodeToString(contentHash[:])
	date := c.now().UTC().Format(http.TimeFormat)

	pathAndQuery := req.URL.RequestURI()
	stringToSign := req.Method + "\n" + pathAndQuery + "\n" + date + ";" + req.URL.Host + ";" + contentHashB64

	mac := hmac.New(sha256.New, c.accessKey)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("x-ms-date", date)
	req.Header.Set("x-ms-content-sha256", contentHashB64)
	req.Header.Set("Authorization",
		"HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature="+signature)
}

// RequestError reports a non-2xx platform response.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("callautomation: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
