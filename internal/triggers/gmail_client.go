package triggers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	gmailHistoryURL = "https://gmail.googleapis.com/gmail/v1/users/me/history"
	gmailMessageURL = "https://gmail.googleapis.com/gmail/v1/users/me/messages/%s"
	gmailWatchURL   = "https://gmail.googleapis.com/gmail/v1/users/me/watch"
)

// httpGmailClient is the concrete GmailClient backing production use,
// exchanging refresh tokens via golang.org/x/oauth2's Google endpoint and
// calling the Gmail REST API directly. This is the "external service
// integration" §1 scopes out of the testable core — GmailPoller depends
// only on the GmailClient port, never on this type.
type httpGmailClient struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	watchTopic  string
}

// NewHTTPGmailClient builds the production GmailClient. watchTopic is the
// Pub/Sub topic name Gmail's users.watch call publishes new-mail
// notifications to.
func NewHTTPGmailClient(clientID, clientSecret, watchTopic string) GmailClient {
	return &httpGmailClient{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     googleEndpoint,
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
		watchTopic: watchTopic,
	}
}

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

func (c *httpGmailClient) ExchangeRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	src := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("exchanging refresh token: %w", err)
	}
	return tok.AccessToken, nil
}

type historyListResponse struct {
	History []struct {
		ID             string `json:"id"`
		MessagesAdded []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"messagesAdded"`
	} `json:"history"`
	HistoryID string `json:"historyId"`
}

func (c *httpGmailClient) ListHistory(ctx context.Context, accessToken string, startHistoryID uint64) ([]HistoryRecord, uint64, error) {
	url := fmt.Sprintf("%s?startHistoryId=%d", gmailHistoryURL, startHistoryID)
	var resp historyListResponse
	if err := c.getJSON(ctx, accessToken, url, &resp); err != nil {
		return nil, startHistoryID, err
	}

	maxID := startHistoryID
	records := make([]HistoryRecord, 0, len(resp.History))
	for _, h := range resp.History {
		rec := HistoryRecord{}
		var hid uint64
		fmt.Sscanf(h.ID, "%d", &hid)
		rec.ID = hid
		if hid > maxID {
			maxID = hid
		}
		for _, added := range h.MessagesAdded {
			if added.Message.ID != "" {
				rec.MessageIDsAdded = append(rec.MessageIDsAdded, added.Message.ID)
			}
		}
		records = append(records, rec)
	}
	return records, maxID, nil
}

type messageGetResponse struct {
	LabelIds []string `json:"labelIds"`
	Payload  struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (c *httpGmailClient) GetMessageMetadata(ctx context.Context, accessToken, messageID string) (*MessageMeta, error) {
	url := fmt.Sprintf(gmailMessageURL, messageID) + "?format=metadata&metadataHeaders=From&metadataHeaders=Subject"
	var resp messageGetResponse
	if err := c.getJSON(ctx, accessToken, url, &resp); err != nil {
		return nil, err
	}
	meta := &MessageMeta{Labels: resp.LabelIds}
	for _, h := range resp.Payload.Headers {
		switch h.Name {
		case "From":
			meta.From = h.Value
		case "Subject":
			meta.Subject = h.Value
		}
	}
	return meta, nil
}

type watchResponse struct {
	HistoryID  string `json:"historyId"`
	Expiration string `json:"expiration"`
}

func (c *httpGmailClient) RenewWatch(ctx context.Context, accessToken string) (uint64, time.Time, error) {
	body, err := json.Marshal(map[string]interface{}{
		"topicName": c.watchTopic,
		"labelIds":  []string{"INBOX"},
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("encoding watch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gmailWatchURL, bytes.NewReader(body))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("building watch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("calling gmail watch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, time.Time{}, fmt.Errorf("gmail watch returned %d", resp.StatusCode)
	}

	var parsed watchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, time.Time{}, fmt.Errorf("decoding watch response: %w", err)
	}

	var historyID uint64
	fmt.Sscanf(parsed.HistoryID, "%d", &historyID)
	var expiryMs int64
	fmt.Sscanf(parsed.Expiration, "%d", &expiryMs)
	return historyID, time.UnixMilli(expiryMs), nil
}

func (c *httpGmailClient) getJSON(ctx context.Context, accessToken, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling gmail api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gmail api returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return json.Unmarshal(data, out)
}
