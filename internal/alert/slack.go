package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func (n *SlackNotifier) Send(ctx context.Context, msg Message) error {
	if n.webhookURL == "" {
		return fmt.Errorf("missing_webhook_url")
	}

	text := msg.Text
	if msg.Notify {
		text = "<!channel> " + text
	}

	attachment := slackAttachment{
		Color:  msg.Color,
		Title:  msg.Title,
		Text:   msg.Body,
		Fields: make([]slackField, 0, len(msg.Fields)),
	}
	for _, f := range msg.Fields {
		attachment.Fields = append(attachment.Fields, slackField{Title: f.Title, Value: f.Value, Short: f.Short})
	}

	body, err := json.Marshal(slackPayload{Text: text, Attachments: []slackAttachment{attachment}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack_api_error: status=%d", resp.StatusCode)
	}

	return nil
}
