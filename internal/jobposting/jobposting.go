// Package jobposting fetches job postings from Wanted.
package jobposting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL     = "https://www.wanted.co.kr"
	wantedHost = "wanted.co.kr"
	userAgent  = "spigell/mock-interviewer"
	maxRetries = 3
	retryDelay = time.Second
)

var (
	ErrInvalidURL  = errors.New("jobposting: not a Wanted job posting URL")
	ErrNotFound    = errors.New("jobposting: job posting not found")
	ErrRateLimited = errors.New("jobposting: rate limited by Wanted")
	ErrUnreachable = errors.New("jobposting: Wanted is unreachable")
)

var jobPathPattern = regexp.MustCompile(`^/wd/(\d+)$`)

type Client struct {
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
	// RetryDelay is the first backoff step, doubled for every retry.
	RetryDelay time.Duration
}

func New(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger: logger,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		UserAgent:  userAgent,
		APIURL:     apiURL,
		RetryDelay: retryDelay,
	}
}

// ExtractJobID returns the numeric id of a posting URL such as
// https://www.wanted.co.kr/wd/12345.
func ExtractJobID(rawURL string) (int, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return 0, ErrInvalidURL
	}
	if host := u.Hostname(); host != wantedHost && !strings.HasSuffix(host, "."+wantedHost) {
		return 0, ErrInvalidURL
	}
	match := jobPathPattern.FindStringSubmatch(u.Path)
	if match == nil {
		return 0, ErrInvalidURL
	}
	id, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, ErrInvalidURL
	}
	return id, nil
}

// FetchURL resolves a posting URL and fetches it.
func (c *Client) FetchURL(ctx context.Context, rawURL string) (*Posting, error) {
	id, err := ExtractJobID(rawURL)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, id)
}

func (c *Client) Fetch(ctx context.Context, id int) (*Posting, error) {
	var detail jobResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/v4/jobs/%d", c.APIURL, id), &detail); err != nil {
		return nil, err
	}

	job := detail.Job
	if job == nil {
		job = &detail.jobDetail
	}
	posting := job.posting()

	c.logger.Debug("job posting fetched",
		zap.Int("job_id", id),
		zap.String("company", posting.CompanyName),
		zap.String("position", posting.Position),
		zap.Int("text_length", len(posting.Text)),
	)
	return posting, nil
}
