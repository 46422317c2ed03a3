package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottbott/scottbott/internal/jobs"
)

// Discord caps message bodies at 2000 characters.
const maxMessageChars = 2000

// Client is a minimal Discord REST client covering the endpoints the bot
// needs: create, edit and delete channel messages, and multipart file upload.
type Client struct {
	apiBase    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a Discord client. apiBase is normally
// "https://discord.com/api/v10"; tests point it at a local server.
func NewClient(apiBase, token string, requestTimeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		log: log.With().Str("component", "gateway").Logger(),
	}
}

type messageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// CreateMessage posts a message and returns the created message id.
func (c *Client) CreateMessage(ctx context.Context, channelID, content string) (string, error) {
	payload := fmt.Sprintf(`{"content":%s}`, jsonString(truncate(content, maxMessageChars)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/channels/"+channelID+"/messages", strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("discord create message failed: %w", err)
	}

	var msg messageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("failed to parse create message response: %w", err)
	}
	return msg.ID, nil
}

// EditMessage rewrites an existing message in place.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	payload := fmt.Sprintf(`{"content":%s}`, jsonString(truncate(content, maxMessageChars)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.apiBase+"/channels/"+channelID+"/messages/"+messageID, strings.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("discord edit message failed: %w", err)
	}
	return nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.apiBase+"/channels/"+channelID+"/messages/"+messageID, nil)
	if err != nil {
		return err
	}
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("discord delete message failed: %w", err)
	}
	return nil
}

// UploadFile posts a message with an attached file as multipart form data.
func (c *Client) UploadFile(ctx context.Context, channelID, filename string, data []byte, content string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("files[0]", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	payload := fmt.Sprintf(`{"content":%s}`, jsonString(truncate(content, maxMessageChars)))
	if err := w.WriteField("payload_json", payload); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/channels/"+channelID+"/messages", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("discord file upload failed: %w", err)
	}
	return nil
}

// RespondToInteraction sends the initial interaction callback with a text
// body so slash commands get an immediate acknowledgement.
func (c *Client) RespondToInteraction(ctx context.Context, interactionID, token, content string) error {
	payload := fmt.Sprintf(`{"type":4,"data":{"content":%s}}`, jsonString(truncate(content, maxMessageChars)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/interactions/"+interactionID+"/"+token+"/callback", strings.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("discord interaction response failed: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bot "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

type notifierClient interface {
	Replier
	StatusEditor
	Uploader
}

// Notifier adapts the client to the job engine's status surface: progress
// lands as message edits, finished images as uploads or link messages.
type Notifier struct {
	client notifierClient
}

func NewNotifier(client notifierClient) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) EditStatus(ctx context.Context, target jobs.StatusTarget, text string) error {
	return n.client.EditMessage(ctx, target.ChannelID, target.MessageID, text)
}

func (n *Notifier) DeliverImage(ctx context.Context, target jobs.StatusTarget, data []byte, url string) error {
	if len(data) > 0 {
		return n.client.UploadFile(ctx, target.ChannelID, "image.png", data, "")
	}
	if url != "" {
		_, err := n.client.CreateMessage(ctx, target.ChannelID, url)
		return err
	}
	return fmt.Errorf("nothing to deliver")
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
