package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/RohitAchyutuni/PlanGenie/internal/metrics"
	"github.com/RohitAchyutuni/PlanGenie/internal/models"
	"github.com/RohitAchyutuni/PlanGenie/internal/plan"
)

// Client opens plan streams against the assistant backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a stream client for the given backend base URL.
// The HTTP client carries no overall timeout: a stream lives as long as the
// assistant keeps talking. Cancellation happens through the cancel handle.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// OpenOptions binds one stream to a thread and an outgoing message.
type OpenOptions struct {
	ThreadID  string
	Message   string
	Callbacks Callbacks
}

// handle tracks the live state of one open stream.
type handle struct {
	cancelCtx context.CancelFunc
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}

	// finalFired guards the at-most-once OnFinal contract against servers
	// that emit final more than once. Only touched by the run goroutine.
	finalFired bool
}

// Open starts one event stream for (threadID, message) and returns its
// cancel handle. The handle is idempotent: the first call stops further
// callback delivery and releases the transport, later calls are no-ops, and
// cancel itself never fires OnFinal. Late network deliveries after cancel
// are dropped. Open also returns a done channel that closes once the stream
// goroutine has fully exited; Send uses it to await cleanup before opening
// the next stream.
func (c *Client) Open(ctx context.Context, opts OpenOptions) (cancel func(), done <-chan struct{}) {
	streamCtx, cancelCtx := context.WithCancel(ctx)
	h := &handle{cancelCtx: cancelCtx, done: make(chan struct{})}

	go c.run(streamCtx, h, opts)

	cancel = func() {
		h.once.Do(func() {
			h.cancelled.Store(true)
			h.cancelCtx()
			select {
			case <-h.done:
				// Stream already finished naturally; nothing was cut short.
			default:
				metrics.StreamsCancelled.Inc()
			}
		})
	}
	return cancel, h.done
}

// run performs the SSE request and pumps events until the stream ends.
func (c *Client) run(ctx context.Context, h *handle, opts OpenOptions) {
	defer close(h.done)
	defer h.cancelCtx()

	cb := opts.Callbacks

	req, err := c.newStreamRequest(ctx, opts)
	if err != nil {
		c.deliverError(h, cb, err)
		c.deliverClose(h, cb)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.deliverError(h, cb, err)
		c.deliverClose(h, cb)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.deliverError(h, cb, fmt.Errorf("plan stream: unexpected status %d", resp.StatusCode))
		c.deliverClose(h, cb)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	event := ""
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Blank line terminates one event.
			if event != "" || data.Len() > 0 {
				c.dispatch(h, cb, event, data.String())
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		}
	}

	if err := scanner.Err(); err != nil && !h.cancelled.Load() && !errors.Is(err, context.Canceled) {
		c.deliverError(h, cb, err)
	}
	c.deliverClose(h, cb)
}

// newStreamRequest builds the SSE request for one send.
func (c *Client) newStreamRequest(ctx context.Context, opts OpenOptions) (*http.Request, error) {
	q := url.Values{}
	q.Set("message", opts.Message)

	endpoint := fmt.Sprintf("%s/chats/%s/stream?%s", c.baseURL, url.PathEscape(opts.ThreadID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Plan-Schema", SchemaVersion)
	return req, nil
}

// dispatch routes one server event to exactly one callback.
func (c *Client) dispatch(h *handle, cb Callbacks, event, data string) {
	if h.cancelled.Load() {
		return
	}
	if event == "" {
		// Bare data events carry text per the original wire behavior.
		event = EventText
	}

	metrics.StreamEvents.WithLabelValues(event).Inc()

	switch event {
	case EventOpen:
		if cb.OnOpen != nil {
			cb.OnOpen()
		}
	case EventText:
		if cb.OnTextChunk != nil {
			cb.OnTextChunk(decodeText(data))
		}
	case EventFlights:
		if cb.OnFlights != nil {
			cb.OnFlights(decodeSlicePayload(data, "flights").Flights)
		}
	case EventHotels:
		if cb.OnHotels != nil {
			cb.OnHotels(decodeSlicePayload(data, "hotels").Hotels)
		}
	case EventItinerary:
		if cb.OnItinerary != nil {
			cb.OnItinerary(decodeItinerary(data))
		}
	case EventSummary:
		if cb.OnSummary != nil {
			cb.OnSummary(decodeText(data))
		}
	case EventFinal:
		if h.finalFired {
			return
		}
		h.finalFired = true
		if cb.OnFinal != nil {
			cb.OnFinal()
		}
	case EventError:
		c.deliverError(h, cb, errors.New(decodeText(data)))
	default:
		metrics.StreamUnknownEvents.Inc()
		c.logger.Warn().
			Str("event", event).
			Str("schema", SchemaVersion).
			Msg("unknown stream event kind")
	}
}

func (c *Client) deliverError(h *handle, cb Callbacks, err error) {
	if h.cancelled.Load() || err == nil {
		return
	}
	c.logger.Warn().Err(err).Msg("plan stream error")
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (c *Client) deliverClose(h *handle, cb Callbacks) {
	if h.cancelled.Load() {
		return
	}
	if cb.OnClose != nil {
		cb.OnClose()
	}
}

// decodeText extracts a text payload. Servers send either a bare JSON
// string, an object with a text/summary/message field, or raw text.
func decodeText(data string) string {
	var s string
	if err := json.Unmarshal([]byte(data), &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &obj); err == nil {
		for _, key := range []string{"text", "summary", "message", "error"} {
			if raw, ok := obj[key]; ok {
				if err := json.Unmarshal(raw, &s); err == nil {
					return s
				}
				return string(raw)
			}
		}
	}
	return data
}

// decodeSlicePayload runs a flights/hotels event payload through the plan
// adapter so null filtering happens in one place. The payload is either a
// bare array or a partial plan object; bare arrays are wrapped under the
// given key before normalizing.
func decodeSlicePayload(data, key string) models.PlanViewModel {
	raw := json.RawMessage(data)
	if strings.HasPrefix(strings.TrimSpace(data), "[") {
		return plan.Normalize(map[string]any{key: raw})
	}
	return plan.Normalize(raw)
}

// decodeItinerary accepts a bare day array, a {days:[...]} object, or a
// partial plan object.
func decodeItinerary(data string) []models.ItineraryDay {
	raw := json.RawMessage(data)
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "[") {
		return plan.Normalize(map[string]any{"itinerary": raw}).ItineraryDays
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		if days, ok := probe["days"]; ok {
			return plan.Normalize(map[string]any{"itinerary": json.RawMessage(days)}).ItineraryDays
		}
	}
	return plan.Normalize(raw).ItineraryDays
}
