package scoreapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/park285/arcade-scores/internal/domain"
	"github.com/park285/arcade-scores/pkg/scoredto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Client talks to the REST score backend. Reads are retried on transient
// statuses; submissions are sent once.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	logger  *zap.Logger

	cookieName string
	cookie     string

	defaultTimeout time.Duration
	retryMax       int
	validate       *validator.Validate
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithSessionCookie attaches the authenticated session cookie to every request.
func WithSessionCookie(name, value string) Option {
	return func(c *Client) { c.cookieName, c.cookie = name, value }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDial replaces the transport dialer (in-memory listeners in tests).
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		logger:         zap.NewNop(),
		cookieName:     "session",
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		validate:       validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBest returns the player's best for the game, or domain.ErrNotFound
// when the backend has no record.
func (c *Client) FetchBest(ctx context.Context, key domain.Key) (*domain.HighScoreRecord, error) {
	if !key.Valid() {
		return nil, domain.ErrInvalidKey
	}
	path := fmt.Sprintf("/api/games/%s/players/%s/best", url.PathEscape(key.GameID), url.PathEscape(key.PlayerID))
	var resp scoredto.BestScoreResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &resp, true); err != nil {
		var apiErr *scoredto.APIError
		if errors.As(err, &apiErr) && apiErr.Status == fasthttp.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.HighScoreRecord{
		PlayerID:   key.PlayerID,
		GameID:     key.GameID,
		BestScore:  resp.BestScore,
		RecordedAt: resp.RecordedAt,
	}, nil
}

// SubmitScore posts one score. It is never retried: a timed-out submission may
// still have been applied, and the caller re-decides from fresh state.
func (c *Client) SubmitScore(ctx context.Context, key domain.Key, score int64) (*domain.HighScoreRecord, error) {
	req := scoredto.SubmitScoreRequest{PlayerID: key.PlayerID, GameID: key.GameID, Score: score}
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedReport, err)
	}
	path := fmt.Sprintf("/api/games/%s/scores", url.PathEscape(key.GameID))
	var resp scoredto.ScoreRecord
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, req, &resp, false); err != nil {
		return nil, err
	}
	rec := recordFromDTO(resp)
	if rec.PlayerID == "" {
		rec.PlayerID = key.PlayerID
	}
	if rec.GameID == "" {
		rec.GameID = key.GameID
	}
	return &rec, nil
}

// ListScores returns the game's records in backend order.
func (c *Client) ListScores(ctx context.Context, gameID string) ([]domain.HighScoreRecord, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, domain.ErrInvalidKey
	}
	var rows []scoredto.LeaderboardRow
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/games/"+url.PathEscape(gameID)+"/leaderboard", nil, &rows, true); err != nil {
		return nil, err
	}
	out := make([]domain.HighScoreRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.HighScoreRecord{
			PlayerID:    r.PlayerID,
			GameID:      gameID,
			DisplayName: r.DisplayName,
			BestScore:   r.BestScore,
			RecordedAt:  r.RecordedAt,
		})
	}
	return out, nil
}

func recordFromDTO(r scoredto.ScoreRecord) domain.HighScoreRecord {
	return domain.HighScoreRecord{
		PlayerID:    r.PlayerID,
		GameID:      r.GameID,
		DisplayName: r.DisplayName,
		BestScore:   r.BestScore,
		RecordedAt:  r.RecordedAt,
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")

	if c.cookie != "" {
		req.Header.SetCookie(c.cookieName, c.cookie)
	}
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			if attempt == attempts || !retry {
				return fmt.Errorf("request failed: %w", err)
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Debug("score_api_retry", zap.String("method", method), zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := parseAPIError(status, resp.Body())
			if attempt == attempts || !retry || !apiErr.Retryable {
				return apiErr
			}
			lastErr = apiErr
			c.logger.Debug("score_api_retry", zap.String("method", method), zap.String("path", path), zap.Int("attempt", attempt), zap.Int("status", status))
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func parseAPIError(status int, body []byte) *scoredto.APIError {
	apiErr := &scoredto.APIError{Status: status, Retryable: shouldRetryStatus(status)}
	var eb scoredto.ErrorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		apiErr.Code, apiErr.Message = eb.Code, eb.Message
	}
	if apiErr.Message == "" && apiErr.Code == "" && len(body) > 0 {
		apiErr.Message = truncate(strings.TrimSpace(string(body)), 512)
	}
	return apiErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
