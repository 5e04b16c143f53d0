package hermes

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// SubjectMessagesSubmitted carries raw chat text to be ingested.
	SubjectMessagesSubmitted = "tally.messages.submitted"
	// SubjectExtractionCompleted is published after an ingest is stored.
	SubjectExtractionCompleted = "tally.extraction.completed"
	// SubjectExtractionFailed is published when an ingest fails.
	SubjectExtractionFailed = "tally.extraction.failed"
)

// MessagesSubmitted is the payload on SubjectMessagesSubmitted.
type MessagesSubmitted struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// ExtractionCompleted summarises a stored ingest. Provenance stays local.
type ExtractionCompleted struct {
	Provider        string      `json:"provider"`
	Model           string      `json:"model"`
	NewParticipants []uuid.UUID `json:"new_participants"`
	Records         int         `json:"records"`
	DurationMS      int64       `json:"duration_ms"`
	CompletedAt     time.Time   `json:"completed_at"`
}

// ExtractionFailed reports an ingest failure by taxonomy kind.
type ExtractionFailed struct {
	Provider string    `json:"provider"`
	Kind     string    `json:"kind"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Publisher is the outbound half of Client.
type Publisher interface {
	Publish(subject string, data any) error
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *zap.Logger
}

func NewClient(url, token string, logger *zap.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("tally"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "nats connect")
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "marshal payload")
	}
	return eris.Wrapf(c.conn.Publish(subject, payload), "publish %s", subject)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return eris.Wrapf(err, "subscribe %s", subject)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", zap.String("subject", subject))
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

// Nop discards everything published to it.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }
