package sportsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scorecast/scorecast/internal/ingest"
	"github.com/scorecast/scorecast/internal/results"
)

var (
	ErrInvalidConfig    = errors.New("sportsfeed: invalid config")
	ErrFeed             = errors.New("sportsfeed: feed error")
	ErrResponseTooLarge = errors.New("sportsfeed: response too large")
)

// FeedError carries the feed's HTTP status so callers can distinguish rate
// limiting from hard failures.
type FeedError struct {
	StatusCode int
	Message    string
}

func (e *FeedError) Error() string {
	if e == nil {
		return "sportsfeed: nil feed error"
	}
	return fmt.Sprintf("sportsfeed: feed status %d: %s", e.StatusCode, e.Message)
}

func (e *FeedError) Unwrap() error { return ErrFeed }

type Option func(*Client) error

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidConfig)
		}
		c.hc = hc
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
		}
		if c.hc == nil {
			c.hc = &http.Client{}
		}
		c.hc.Timeout = d
		return nil
	}
}

func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidConfig)
		}
		c.maxRespBytes = n
		return nil
	}
}

// Client talks to the sports results feed. It implements ingest.Gateway: both
// fetches may return partial batches, and an absent entity id means the feed
// has nothing for it yet.
type Client struct {
	baseURL      string
	apiKey       string
	hc           *http.Client
	maxRespBytes int64
}

func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: missing base url", ErrInvalidConfig)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: missing api key", ErrInvalidConfig)
	}
	c := &Client{
		baseURL:      baseURL,
		apiKey:       strings.TrimSpace(apiKey),
		hc:           &http.Client{Timeout: 10 * time.Second},
		maxRespBytes: 5 << 20, // 5 MiB
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type feedMatch struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Score  *struct {
		FullTime *struct {
			Home int `json:"home"`
			Away int `json:"away"`
		} `json:"fullTime"`
		HalfTime *struct {
			Home int `json:"home"`
			Away int `json:"away"`
		} `json:"halfTime"`
	} `json:"score"`
	FinishedAt *time.Time `json:"finishedAt"`
}

type feedResponse struct {
	Matches []feedMatch `json:"matches"`
}

func (c *Client) FetchStatuses(ctx context.Context, entityIDs []string) (ingest.StatusBatch, error) {
	if len(entityIDs) == 0 {
		return ingest.StatusBatch{}, nil
	}
	body, resp, err := c.get(ctx, "/v1/matches/status", entityIDs)
	if err != nil {
		return ingest.StatusBatch{}, err
	}

	out := ingest.StatusBatch{Raw: body}
	for _, m := range resp.Matches {
		if m.ID == "" {
			continue
		}
		out.Statuses = append(out.Statuses, ingest.StatusUpdate{
			EntityID: m.ID,
			Status:   mapStatus(m.Status),
		})
	}
	return out, nil
}

func (c *Client) FetchResults(ctx context.Context, entityIDs []string) (ingest.ResultBatch, error) {
	if len(entityIDs) == 0 {
		return ingest.ResultBatch{}, nil
	}
	body, resp, err := c.get(ctx, "/v1/matches/results", entityIDs)
	if err != nil {
		return ingest.ResultBatch{}, err
	}

	out := ingest.ResultBatch{Raw: body}
	for _, m := range resp.Matches {
		if m.ID == "" {
			continue
		}
		status := mapStatus(m.Status)
		rd := ingest.ResultData{
			EntityID:   m.ID,
			Status:     status,
			FinishedAt: m.FinishedAt,
		}
		if status == results.StatusCancelled || status == results.StatusAbandoned {
			// No score is expected; the entry still matters so the entity
			// leaves the settlement queue.
			out.Results = append(out.Results, rd)
			continue
		}
		if m.Score == nil || m.Score.FullTime == nil {
			// Score not published yet; treat the entity as absent.
			continue
		}
		rd.HomeScore = m.Score.FullTime.Home
		rd.AwayScore = m.Score.FullTime.Away
		if m.Score.HalfTime != nil {
			ht := m.Score.HalfTime.Home
			ha := m.Score.HalfTime.Away
			rd.HTHome = &ht
			rd.HTAway = &ha
		}
		out.Results = append(out.Results, rd)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, entityIDs []string) ([]byte, feedResponse, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(entityIDs, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, feedResponse{}, fmt.Errorf("sportsfeed: build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, feedResponse{}, fmt.Errorf("sportsfeed: http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, c.maxRespBytes)
	if err != nil {
		return nil, feedResponse{}, err
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, feedResponse{}, &FeedError{StatusCode: resp.StatusCode, Message: msg}
	}

	var fr feedResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, feedResponse{}, fmt.Errorf("sportsfeed: unmarshal response: %w", err)
	}
	return body, fr, nil
}

// mapStatus normalizes feed status codes. Anything unrecognized maps to
// StatusUnknown, which ingestion treats as "no update".
func mapStatus(s string) results.EntityStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NS", "SCHEDULED", "TBD":
		return results.StatusScheduled
	case "1H", "2H", "HT", "ET", "P", "LIVE", "IN_PLAY":
		return results.StatusInPlay
	case "FT", "AET", "PEN", "FINISHED":
		return results.StatusFinished
	case "CANC", "CANCELLED":
		return results.StatusCancelled
	case "ABD", "AWD", "WO", "ABANDONED":
		return results.StatusAbandoned
	default:
		return results.StatusUnknown
	}
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("sportsfeed: read response: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, ErrResponseTooLarge
	}
	return b, nil
}
