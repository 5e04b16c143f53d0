package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const DefaultBaseURL = "https://api.anthropic.com"

// ErrEmptyContent is returned when the API answers without a text block.
var ErrEmptyContent = errors.New("anthropic: empty response content")

// APIError is a non-2xx answer from the Messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic: api error %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: api error %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// MalformedResponseError is a 2xx answer the SDK could not decode.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return "anthropic: malformed response: " + e.Err.Error()
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

type Client struct {
	client sdk.Client
	model  string
}

type settings struct {
	baseURL string
	http    *http.Client
	headers map[string]string
}

// Option configures the client.
type Option func(*settings)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithHTTPClient overrides the http.Client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.http = hc }
}

// WithHeaders adds headers to every request.
func WithHeaders(h map[string]string) Option {
	return func(s *settings) { s.headers = h }
}

// NewClient builds a Messages API client. The SDK's automatic retries are
// disabled; callers decide whether to try again.
func NewClient(apiKey, model string, opts ...Option) *Client {
	s := settings{baseURL: DefaultBaseURL}
	for _, o := range opts {
		o(&s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(s.baseURL),
		option.WithMaxRetries(0),
	}
	if s.http != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.http))
	}
	for k, v := range s.headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}

	return &Client{
		client: sdk.NewClient(reqOpts...),
		model:  model,
	}
}

type Message struct {
	Role    string
	Content string
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a message to the Anthropic API and returns the text response.
func (c *Client) Complete(ctx context.Context, system string, messages []Message, maxTokens int, temperature float64) (string, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Messages:    toSDKMessages(messages),
		Temperature: sdk.Float(temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", toAPIError(apiErr)
		}
		if isDecodeError(err) {
			return "", &MalformedResponseError{Err: err}
		}
		return "", eris.Wrap(err, "anthropic: create message")
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyContent
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func toAPIError(apiErr *sdk.Error) *APIError {
	out := &APIError{StatusCode: apiErr.StatusCode, Message: http.StatusText(apiErr.StatusCode)}
	var body errorResponse
	if json.Unmarshal([]byte(apiErr.RawJSON()), &body) == nil && body.Error.Message != "" {
		out.Type = body.Error.Type
		out.Message = body.Error.Message
	}
	return out
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			out[i] = sdk.NewAssistantMessage(block)
		default:
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}
