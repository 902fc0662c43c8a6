package cloudapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"VentaBot/entity"
	"VentaBot/internal/lib/sl"
)

const graphAPIURL = "https://graph.facebook.com/v21.0"

// Client sends messages for one bot through the stateless Graph API. It
// implements the channel port; typing presence is not supported by this
// transport and is a no-op.
type Client struct {
	log           *slog.Logger
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
}

func NewClient(b *entity.Bot, log *slog.Logger) *Client {
	return &Client{
		log:           log.With(sl.Module("cloudapi"), slog.String("bot", b.ID.Hex())),
		accessToken:   b.CloudAPI.AccessToken,
		phoneNumberID: b.CloudAPI.PhoneNumberID,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

type sendTextRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type sendImageRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Image            struct {
		Link string `json:"link"`
	} `json:"image"`
}

type markReadRequest struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

func (c *Client) SendText(to, text string) error {
	req := sendTextRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
	}
	req.Text.PreviewURL = false
	req.Text.Body = text

	return c.post("messages", req)
}

func (c *Client) SendImage(to, url string) error {
	req := sendImageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "image",
	}
	req.Image.Link = url

	return c.post("messages", req)
}

func (c *Client) MarkRead(messageID string) error {
	req := markReadRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}

	return c.post("messages", req)
}

// SetTyping is a no-op: the Graph API exposes no typing presence.
func (c *Client) SetTyping(string, bool) error {
	return nil
}

func (c *Client) post(endpoint string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", graphAPIURL, c.phoneNumberID, endpoint)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// resolveMediaURL exchanges a webhook media id for its short-lived download
// URL.
func (c *Client) resolveMediaURL(mediaID string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/%s", graphAPIURL, mediaID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to resolve media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("media lookup error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var media struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return "", fmt.Errorf("failed to decode media lookup: %w", err)
	}

	return media.URL, nil
}

// downloadMedia fetches media bytes; the URL from resolveMediaURL only works
// with the bearer token attached.
func (c *Client) downloadMedia(url string) ([]byte, string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media download error (status %d)", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// fetchImageDataURL downloads an image and re-encodes it as a data URL the
// vision service can consume without our bearer token.
func (c *Client) fetchImageDataURL(mediaID string) (string, error) {
	url, err := c.resolveMediaURL(mediaID)
	if err != nil {
		return "", err
	}

	data, mime, err := c.downloadMedia(url)
	if err != nil {
		return "", err
	}
	if mime == "" {
		mime = "image/jpeg"
	}

	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}

// fetchAudio downloads a voice note payload.
func (c *Client) fetchAudio(mediaID string) ([]byte, error) {
	url, err := c.resolveMediaURL(mediaID)
	if err != nil {
		return nil, err
	}

	data, _, err := c.downloadMedia(url)
	if err != nil {
		return nil, err
	}

	return data, nil
}
