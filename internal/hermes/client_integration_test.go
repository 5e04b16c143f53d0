//go:build integration

package hermes

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_PubSub(t *testing.T) {
	natsURL := skipWithoutNATS(t)

	client, err := NewClient(natsURL, os.Getenv("NATS_TOKEN"), zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	received := make(chan MessagesSubmitted, 1)

	err = client.Subscribe(SubjectMessagesSubmitted, func(subject string, data []byte) {
		var msg MessagesSubmitted
		if json.Unmarshal(data, &msg) == nil {
			received <- msg
		}
	})
	require.NoError(t, err)

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, client.Publish(SubjectMessagesSubmitted, MessagesSubmitted{Text: "Kalle: 10h", Language: "sv"}))

	select {
	case msg := <-received:
		require.Equal(t, "Kalle: 10h", msg.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
