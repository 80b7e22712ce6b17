package jobposting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
	"github.com/spigell/mock-interviewer/internal/utils"
	"go.uber.org/zap"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
)

var sleep = utils.WaitFor

// getJSON retries rate limits, server errors and transport failures.
// A 404 is returned at once.
func (c *Client) getJSON(ctx context.Context, url string, target any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := utils.Backoff(c.RetryDelay, attempt)
			c.logger.Debug("retrying Wanted request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%w: %v", ErrUnreachable, err)
			}
		}

		lastErr = c.getOnce(ctx, url, target)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnreachable)
}

func (c *Client) getOnce(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", contentType)
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Encoding", contentEncoding)

	c.logger.Debug("make request", zap.String("url", url))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: bad status: %s", ErrUnreachable, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("open gzip body: %w", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	if err := json.NewDecoder(reader).Decode(target); err != nil {
		return fmt.Errorf("decode job posting: %w", err)
	}
	return nil
}
