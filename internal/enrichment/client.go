package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/domain"
)

type ClientConfig struct {
	SentimentURL    string
	TranslateURL    string
	Languages       []string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
}

// Client calls the sentiment and translation services over HTTP with
// retries and a circuit breaker shared by both endpoints.
type Client struct {
	http *http.Client
	cb   *gobreaker.CircuitBreaker
	conf ClientConfig
}

func NewClient(conf ClientConfig, log *zap.SugaredLogger) *Client {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	st := gobreaker.Settings{
		Name:        "enrichment",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		http: &http.Client{Transport: tr, Timeout: conf.Timeout},
		cb:   gobreaker.NewCircuitBreaker(st),
		conf: conf,
	}
}

type sentimentRequest struct {
	Text string `json:"text"`
}

type sentimentResponse struct {
	Score float64 `json:"score"`
}

type translateRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

type translateResponse struct {
	Text string `json:"text"`
}

// Enrich returns whatever it could compute; err joins the failed lookups.
func (c *Client) Enrich(ctx context.Context, m *domain.ChatMessage) (domain.Enrichment, error) {
	var (
		out  domain.Enrichment
		errs []error
	)
	if c.conf.SentimentURL != "" {
		var resp sentimentResponse
		if err := c.post(ctx, c.conf.SentimentURL, sentimentRequest{Text: m.Content}, &resp); err != nil {
			errs = append(errs, fmt.Errorf("sentiment: %w", err))
		} else {
			score := resp.Score
			out.Sentiment = &score
		}
	}
	if c.conf.TranslateURL != "" {
		for _, lang := range c.conf.Languages {
			var resp translateResponse
			if err := c.post(ctx, c.conf.TranslateURL, translateRequest{Text: m.Content, Target: lang}, &resp); err != nil {
				errs = append(errs, fmt.Errorf("translate %s: %w", lang, err))
				continue
			}
			if out.Translations == nil {
				out.Translations = make(map[string]string, len(c.conf.Languages))
			}
			out.Translations[lang] = resp.Text
		}
	}
	return out, errors.Join(errs...)
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = c.cb.Execute(func() (interface{}, error) {
		return nil, c.doWithRetry(ctx, url, payload, out)
	})
	return err
}

// doWithRetry runs the request with exponential backoff. 5xx and network
// errors are retried; other non-2xx statuses fail at once.
func (c *Client) doWithRetry(ctx context.Context, url string, payload []byte, out any) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer r.Body.Close()
		if r.StatusCode >= 500 {
			// drain body to reuse connection
			_, _ = io.Copy(io.Discard, r.Body)
			return fmt.Errorf("upstream status %d", r.StatusCode)
		}
		if r.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("upstream status %d", r.StatusCode))
		}
		if err := json.NewDecoder(r.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
