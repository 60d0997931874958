// Package spam scores message content with an external language-model
// service speaking the OpenAI chat-completions protocol.
package spam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Classifier errors.
var (
	ErrEmptyContent    = errors.New("content is required")
	ErrInvalidResponse = errors.New("classifier returned an invalid response")
	ErrUnavailable     = errors.New("classifier unavailable")
	ErrMissingAPIKey   = errors.New("classifier api key is required")
	ErrMissingEndpoint = errors.New("classifier url is required")
)

// Score bounds returned by the model.
const (
	MinScore = -100
	MaxScore = 100
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-3.5-turbo"

const systemPrompt = "You are an assistant that determines if an email is spam or a phishing attempt."

// maxResponseSize bounds the classifier response body.
const maxResponseSize = 1 << 20

// Config configures a Classifier. RequestsPerSecond paces outbound calls,
// retries included; zero disables pacing.
type Config struct {
	URL               string // base URL, e.g. https://api.openai.com/v1
	APIKey            string
	Model             string
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	HTTPClient        *http.Client // optional
}

// Result is a classification outcome.
type Result struct {
	Score  int  `json:"score"`
	IsSpam bool `json:"is_spam"`
}

// Classifier calls the chat-completions endpoint to score content.
type Classifier struct {
	endpoint    string
	apiKey      string
	model       string
	maxAttempts int
	client      *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a Classifier.
func New(cfg Config, logger *slog.Logger) (*Classifier, error) {
	if cfg.URL == "" {
		return nil, ErrMissingEndpoint
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.Timeout)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Classifier{
		endpoint:    strings.TrimRight(cfg.URL, "/") + "/chat/completions",
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		client:      cfg.HTTPClient,
		logger:      logger,
		sleep:       sleepContext,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify scores content. A score above zero means spam.
func (c *Classifier) Classify(ctx context.Context, content, sender string) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(content, sender)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := NextRetryDelay(attempt - 1)
			var ra *retryAfterError
			if errors.As(lastErr, &ra) {
				delay = ra.after
			}
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
		}

		text, err := c.call(ctx, body)
		if err == nil {
			return parseScore(text)
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			c.logger.Error("classifier request rejected", "status", perm.status, "attempt", attempt+1)
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}

		c.logger.Warn("classifier call failed", "error", err, "attempt", attempt+1, "max_attempts", c.maxAttempts)
	}

	return nil, fmt.Errorf("%w: %d attempts: %w", ErrUnavailable, c.maxAttempts, lastErr)
}

// call performs one request and returns the first choice's content.
func (c *Classifier) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &permanentError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "Stackstart-SpamCheck/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		statusErr := fmt.Errorf("HTTP %d", resp.StatusCode)
		if !retryable(resp.StatusCode) {
			return "", &permanentError{status: resp.StatusCode, err: statusErr}
		}
		if d, ok := retryAfter(resp); ok {
			return "", &retryAfterError{after: d, err: statusErr}
		}
		return "", statusErr
	}

	var decoded chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&decoded); err != nil {
		return "", &permanentError{status: resp.StatusCode, err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if len(decoded.Choices) == 0 {
		return "", &permanentError{status: resp.StatusCode, err: fmt.Errorf("%w: no choices", ErrInvalidResponse)}
	}
	return decoded.Choices[0].Message.Content, nil
}

// userPrompt quotes content and sender verbatim; they are not escaped.
func userPrompt(content, sender string) string {
	var b strings.Builder
	b.WriteString("Please analyze the following email and determine if it is spam or a phishing attempt.\n\n")
	b.WriteString("Content:\n\"" + content + "\"\n\n")
	if sender != "" {
		b.WriteString("Sender: \"" + sender + "\"\n")
	}
	b.WriteString("\n\n")
	b.WriteString("Respond only with an integer between -100 and 100 indicating the confidence level. ")
	b.WriteString("Any value above 0 should be considered almost certainly spam and can be safely discarded.")
	return b.String()
}

// parseScore decodes the model output as a JSON number within the score range.
func parseScore(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}

	var v float64
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("%w: not a number", ErrInvalidResponse)
	}
	if math.IsNaN(v) || v < MinScore || v > MaxScore {
		return nil, fmt.Errorf("%w: score out of range", ErrInvalidResponse)
	}

	score := int(math.Round(v))
	return &Result{Score: score, IsSpam: score > 0}, nil
}

// permanentError stops the retry loop.
type permanentError struct {
	status int
	err    error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retryAfterError carries a server-requested delay.
type retryAfterError struct {
	after time.Duration
	err   error
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }
