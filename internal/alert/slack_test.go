package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlackNotifierSendsAttachment(t *testing.T) {
	var payload slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Send(context.Background(), Message{
		Text:  "Quick Account Checking Results",
		Color: ColorGood,
		Title: "done",
		Body:  "All 5 account checks passed.",
		Fields: []Field{
			{Title: "Orphaned Events", Value: "Passed", Short: true},
		},
	})
	require.NoError(t, err)

	require.Equal(t, "Quick Account Checking Results", payload.Text)
	require.Len(t, payload.Attachments, 1)
	require.Equal(t, ColorGood, payload.Attachments[0].Color)
	require.Equal(t, "All 5 account checks passed.", payload.Attachments[0].Text)
	require.Len(t, payload.Attachments[0].Fields, 1)
	require.Equal(t, "Orphaned Events", payload.Attachments[0].Fields[0].Title)
}

func TestSlackNotifierPrefixesChannelPing(t *testing.T) {
	var payload slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Send(context.Background(), Message{
		Text:   "issues",
		Notify: true,
		Color:  ColorDanger,
	})
	require.NoError(t, err)
	require.Equal(t, "<!channel> issues", payload.Text)
}

func TestSlackNotifierReportsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Send(context.Background(), Message{Text: "x"})
	require.Error(t, err)
}

func TestSlackNotifierRequiresWebhook(t *testing.T) {
	err := NewSlackNotifier("").Send(context.Background(), Message{Text: "x"})
	require.Error(t, err)
}
