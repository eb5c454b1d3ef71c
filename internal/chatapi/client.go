// Package chatapi is the HTTP client for the assistant backend: chat
// metadata (titles, chat listing), one-shot plan fetches, and the live plan
// stream.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RohitAchyutuni/PlanGenie/internal/models"
	"github.com/RohitAchyutuni/PlanGenie/internal/plan"
	"github.com/RohitAchyutuni/PlanGenie/internal/stream"
)

// Client is a PlanGenie backend API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	streams *stream.Client
	logger  zerolog.Logger
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		streams:    stream.NewClient(baseURL, logger),
		logger:     logger,
	}
}

// doRequest performs an HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("backend error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// PlanCallbacks receives the slices of a one-shot plan fetch. Callbacks
// fire zero or more times before FetchPlan returns. Nil callbacks are
// skipped.
type PlanCallbacks struct {
	OnFlights   func(flights []models.Flight)
	OnHotels    func(hotels []models.Hotel)
	OnItinerary func(days []models.ItineraryDay)
	OnSummary   func(summary string)
	OnError     func(err error)
}

// FetchPlan retrieves the backend's current plan snapshot for a thread and
// feeds it through the callbacks. Errors go to OnError and are also
// returned; callers treat failure as "use existing data", never as fatal.
func (c *Client) FetchPlan(ctx context.Context, threadID string, cb PlanCallbacks) error {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/chats/"+url.PathEscape(threadID)+"/plan", nil)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err
	}

	normalized := plan.Normalize(json.RawMessage(respBody))

	if cb.OnFlights != nil {
		cb.OnFlights(normalized.Flights)
	}
	if cb.OnHotels != nil {
		cb.OnHotels(normalized.Hotels)
	}
	if cb.OnItinerary != nil {
		cb.OnItinerary(normalized.ItineraryDays)
	}
	if cb.OnSummary != nil {
		cb.OnSummary(normalized.Summary)
	}
	return nil
}

// titleRequest is the request body for title generation.
type titleRequest struct {
	Message string `json:"message"`
}

// titleResponse is the response from title generation.
type titleResponse struct {
	Title string `json:"title"`
}

// GenerateChatTitle asks the backend for a title based on the first message.
func (c *Client) GenerateChatTitle(ctx context.Context, firstMessage string) (string, error) {
	body, _ := json.Marshal(titleRequest{Message: firstMessage})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/chats/title", body)
	if err != nil {
		return "", err
	}

	var resp titleResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}
	if resp.Title == "" {
		return "", fmt.Errorf("backend returned empty title")
	}
	return resp.Title, nil
}

// UpdateChatTitle stores a thread title on the backend.
func (c *Client) UpdateChatTitle(ctx context.Context, threadID, title string) error {
	body, _ := json.Marshal(titleResponse{Title: title})
	_, err := c.doRequest(ctx, http.MethodPut, "/chats/"+url.PathEscape(threadID)+"/title", body)
	return err
}

// chatsResponse is the response from listing a user's chats. The backend
// returns either a bare array or an object with a chats field.
type chatsResponse struct {
	Chats []models.ChatRecord `json:"chats"`
}

// GetUserChats lists the user's chats from the backend.
func (c *Client) GetUserChats(ctx context.Context) ([]models.ChatRecord, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/chats", nil)
	if err != nil {
		return nil, err
	}

	var records []models.ChatRecord
	if err := json.Unmarshal(respBody, &records); err == nil {
		return records, nil
	}

	var resp chatsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// OpenPlanStream opens the live event stream for one send. See stream.Client.
func (c *Client) OpenPlanStream(ctx context.Context, opts stream.OpenOptions) (cancel func(), done <-chan struct{}) {
	return c.streams.Open(ctx, opts)
}
