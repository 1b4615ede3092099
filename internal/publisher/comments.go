package publisher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redpen-ai/redpen/internal/broker"
	"github.com/redpen-ai/redpen/internal/metrics"
	"github.com/redpen-ai/redpen/internal/review"
	"github.com/redpen-ai/redpen/internal/scm"
)

// PortResolver hands back the provider client for a repository.
type PortResolver interface {
	PortFor(provider review.Provider) (scm.Port, error)
}

// StateRecorder marks a review published once comments land.
type StateRecorder interface {
	MarkPublished(ctx context.Context, provider review.Provider, repositoryID string, changeRequestID int64) error
}

// CommentPublisher subscribes to terminal status announcements and posts
// the completed review back to the provider as a comment. Failed reviews
// produce no comment.
type CommentPublisher struct {
	store       broker.ResultStore
	ports       PortResolver
	states      StateRecorder
	metrics     *metrics.Metrics
	log         *slog.Logger
	attempts    int
	baseWait    time.Duration
	maxInFlight int
}

func NewCommentPublisher(store broker.ResultStore, ports PortResolver, states StateRecorder, m *metrics.Metrics, log *slog.Logger) *CommentPublisher {
	return &CommentPublisher{
		store:       store,
		ports:       ports,
		states:      states,
		metrics:     m,
		log:         log,
		attempts:    4,
		baseWait:    2 * time.Second,
		maxInFlight: 8,
	}
}

// Run subscribes to every per-request status channel and handles messages
// until ctx is cancelled. Each completion is published on its own goroutine:
// the pub/sub pump must never wait behind one rate-limited provider, or
// go-redis drops notifications once its channel buffer fills.
func (c *CommentPublisher) Run(ctx context.Context) error {
	limit := c.maxInFlight
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	stop, err := c.store.SubscribePattern(ctx, review.StatusPattern, func(channel, payload string) {
		if payload != string(review.StateCompleted) {
			return
		}
		requestID := strings.TrimPrefix(channel, "review:status:")
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			if err := c.handleCompleted(ctx, requestID); err != nil {
				c.log.Error("comment publish failed", "request_id", requestID, "error", err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe status channels: %w", err)
	}
	defer stop()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (c *CommentPublisher) handleCompleted(ctx context.Context, requestID string) error {
	fields, err := c.store.GetHash(ctx, review.ResultKey(requestID))
	if err != nil {
		return fmt.Errorf("read result hash: %w", err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("result hash missing for %s", requestID)
	}

	var result review.ReviewResult
	if err := json.Unmarshal([]byte(fields["result"]), &result); err != nil {
		return fmt.Errorf("decode stored result: %w", err)
	}
	provider, err := review.ParseProvider(fields["provider"])
	if err != nil {
		return err
	}
	changeRequestID, err := strconv.ParseInt(fields["changeRequestId"], 10, 64)
	if err != nil {
		return fmt.Errorf("decode change request id: %w", err)
	}
	repo := review.RepositoryIdentifier{Provider: provider, OpaqueID: fields["repositoryId"]}

	port, err := c.ports.PortFor(provider)
	if err != nil {
		return err
	}

	body := RenderComment(&result)
	if err := c.publishWithRetry(ctx, port, repo, changeRequestID, body); err != nil {
		return err
	}

	if c.states != nil {
		if err := c.states.MarkPublished(ctx, provider, repo.OpaqueID, changeRequestID); err != nil {
			c.log.Warn("state publish mark failed", "request_id", requestID, "error", err)
		}
	}
	if err := c.store.PublishTopic(ctx, review.PublishedChannel(requestID), "PUBLISHED"); err != nil {
		c.log.Warn("published signal failed", "request_id", requestID, "error", err)
	}

	c.log.Info("review comment posted", "request_id", requestID, "repository", repo.String(), "change_request", changeRequestID)
	return nil
}

// publishWithRetry posts the comment with bounded exponential backoff,
// honoring provider rate-limit hints.
func (c *CommentPublisher) publishWithRetry(ctx context.Context, port scm.Port, repo review.RepositoryIdentifier, changeRequestID int64, body string) error {
	var lastErr error
	wait := c.baseWait
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = port.PublishComment(ctx, repo, changeRequestID, body)
		if lastErr == nil {
			return nil
		}

		delay := wait
		var rl *review.RateLimitError
		if errors.As(lastErr, &rl) {
			delay = time.Duration(rl.RetryAfterSeconds) * time.Second
		}
		if attempt == c.attempts {
			break
		}

		c.metrics.RecordCommentPublishRetry()
		c.log.Warn("comment publish attempt failed",
			"attempt", attempt, "retry_in", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		wait *= 2
	}
	return fmt.Errorf("publish comment after %d attempts: %w", c.attempts, lastErr)
}

// RenderComment formats a review result as provider-flavored markdown.
func RenderComment(result *review.ReviewResult) string {
	var b strings.Builder

	b.WriteString("## Automated review\n\n")
	b.WriteString(strings.TrimSpace(result.Summary))
	b.WriteString("\n")

	if len(result.Issues) > 0 {
		b.WriteString("\n### Issues\n\n")
		for _, issue := range result.Issues {
			fmt.Fprintf(&b, "- **[%s]** `%s:%d` %s\n", strings.ToUpper(string(issue.Severity)), issue.File, issue.StartLine, issue.Title)
			if issue.Suggestion != "" {
				fmt.Fprintf(&b, "  - %s\n", issue.Suggestion)
			}
			if fix := decodeSuggestedFix(issue.SuggestedFix); fix != "" {
				fmt.Fprintf(&b, "\n%s\n", fix)
			}
		}
	}

	if len(result.NonBlockingNotes) > 0 {
		b.WriteString("\n### Notes\n\n")
		for _, note := range result.NonBlockingNotes {
			fmt.Fprintf(&b, "- `%s:%d` %s\n", note.File, note.Line, note.Note)
		}
	}

	return b.String()
}

// decodeSuggestedFix decodes the base64 markdown fix block, returning empty
// on any decode problem rather than posting garbage.
func decodeSuggestedFix(encoded string) string {
	if encoded == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
