package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"tgbot-pipeline/internal/domain"
)

const (
	defaultBaseURL     = "https://api.telegram.org"
	defaultHTTPTimeout = 10 * time.Second
)

// TokenGetter supplies the bot API token. *paramstore.Client satisfies this
// interface; the token is fetched on first use and cached for the process
// lifetime.
type TokenGetter interface {
	BotToken(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("telegram: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// apiResponse is the common Bot API response wrapper.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sentMessage struct {
	MessageID int `json:"message_id"`
	From      struct {
		ID    int64 `json:"id"`
		IsBot bool  `json:"is_bot"`
	} `json:"from"`
}

type fileResult struct {
	FilePath string `json:"file_path"`
}

// Client is a focused Telegram Bot API client covering the calls the
// pipeline makes: sendMessage, answerCallbackQuery, getFile and the file
// download endpoint. Bot API calls run through a circuit breaker so a
// hard-down platform fails fast instead of burning the visibility timeout on
// every redelivered message.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenGetter
	breaker    *gobreaker.CircuitBreaker[[]byte]

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client backed by the given TokenGetter.
func NewClient(tokens TokenGetter, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("telegram: token getter must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		tokens:     tokens,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "telegram-bot-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		token, err := c.tokens.BotToken(ctx)
		if err != nil {
			c.tokenErr = fmt.Errorf("telegram: fetch bot token: %w", err)
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.tokenErr = errors.New("telegram: bot token is empty")
			return
		}
		c.token = token
	})
	return c.token, c.tokenErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// SendMessage delivers text to a chat, HTML-formatted, optionally as a reply.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, replyTo int) (domain.DeliveryResult, error) {
	if chatID == "" {
		return domain.DeliveryResult{}, errors.New("telegram: chat id must not be empty")
	}
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if replyTo != 0 {
		payload["reply_to_message_id"] = replyTo
	}

	raw, err := c.callMethod(ctx, "sendMessage", payload)
	if err != nil {
		return domain.DeliveryResult{}, err
	}

	var sent sentMessage
	if err := json.Unmarshal(raw, &sent); err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("telegram: decode sendMessage result: %w", err)
	}
	return domain.DeliveryResult{
		PlatformMessageID: sent.MessageID,
		SenderID:          fmt.Sprintf("%d", sent.From.ID),
		IsBot:             sent.From.IsBot,
	}, nil
}

// AnswerCallback acknowledges an inline-button press, clearing the client's
// loading state. Text, when non-empty, shows as a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if callbackID == "" {
		return errors.New("telegram: callback id must not be empty")
	}
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	_, err := c.callMethod(ctx, "answerCallbackQuery", payload)
	return err
}

// GetFilePath resolves a file id to its download path on the file endpoint.
func (c *Client) GetFilePath(ctx context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", errors.New("telegram: file id must not be empty")
	}
	raw, err := c.callMethod(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return "", err
	}
	var f fileResult
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("telegram: decode getFile result: %w", err)
	}
	if f.FilePath == "" {
		return "", errors.New("telegram: getFile returned no file path")
	}
	return f.FilePath, nil
}

// DownloadFile fetches the binary content for a path returned by GetFilePath.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}
	u := c.baseURL + "/file/bot" + token + "/" + strings.TrimLeft(filePath, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create download request: %w", err)
	}
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: redactToken(u, token), Body: string(buf)}
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram: read file body: %w", err)
	}
	return data, nil
}

// callMethod posts a Bot API method through the breaker and returns the
// unwrapped result payload.
func (c *Client) callMethod(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s request: %w", method, err)
	}
	u := c.baseURL + "/bot" + token + "/" + method

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doJSONRequest(ctx, u, token, body)
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %s: %w", method, err)
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram: %s rejected: %s", method, resp.Description)
	}
	return resp.Result, nil
}

func (c *Client) doJSONRequest(ctx context.Context, u, token string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: redactToken(u, token), Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// redactToken keeps the bot token out of logged errors.
func redactToken(u, token string) string {
	if token == "" {
		return u
	}
	return strings.ReplaceAll(u, token, "<token>")
}
