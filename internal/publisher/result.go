// Package publisher moves terminal review results out of the workers: into
// the result store for SSE subscribers, and onto the source-control provider
// as review comments.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redpen-ai/redpen/internal/broker"
	"github.com/redpen-ai/redpen/internal/logging"
	"github.com/redpen-ai/redpen/internal/review"
)

// ResultPublisher writes terminal results to the result store. The hash
// write always lands before the status publish so a subscriber woken by the
// publish never reads an empty hash. Each hash carries ttl so the store
// reclaims it after the retention window.
type ResultPublisher struct {
	store broker.ResultStore
	ttl   time.Duration
}

func NewResultPublisher(store broker.ResultStore, ttl time.Duration) *ResultPublisher {
	return &ResultPublisher{store: store, ttl: ttl}
}

// PublishCompleted stores the result hash and then announces COMPLETED on
// the request's status channel.
func (p *ResultPublisher) PublishCompleted(ctx context.Context, req review.AsyncReviewRequest, result *review.ReviewResult, elapsed time.Duration) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal review result: %w", err)
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal review request: %w", err)
	}

	fields := map[string]string{
		"requestId":        req.RequestID,
		"status":           string(review.StateCompleted),
		"request":          string(reqJSON),
		"result":           string(resultJSON),
		"provider":         string(req.Provider),
		"repositoryId":     req.RepositoryID,
		"changeRequestId":  strconv.FormatInt(req.ChangeRequestID, 10),
		"llmProvider":      result.LLMProvider,
		"llmModel":         result.LLMModel,
		"processingTimeMs": strconv.FormatInt(elapsed.Milliseconds(), 10),
		"completedAt":      time.Now().UTC().Format(time.RFC3339),
	}
	return p.publish(ctx, req.RequestID, fields, string(review.StateCompleted))
}

// PublishFailed stores the failure hash and then announces FAILED.
func (p *ResultPublisher) PublishFailed(ctx context.Context, req review.AsyncReviewRequest, cause error, elapsed time.Duration) error {
	fields := map[string]string{
		"requestId":        req.RequestID,
		"status":           string(review.StateFailed),
		"provider":         string(req.Provider),
		"repositoryId":     req.RepositoryID,
		"changeRequestId":  strconv.FormatInt(req.ChangeRequestID, 10),
		"error":            cause.Error(),
		"processingTimeMs": strconv.FormatInt(elapsed.Milliseconds(), 10),
		"completedAt":      time.Now().UTC().Format(time.RFC3339),
	}
	return p.publish(ctx, req.RequestID, fields, string(review.StateFailed))
}

func (p *ResultPublisher) publish(ctx context.Context, requestID string, fields map[string]string, status string) error {
	log := logging.FromContext(ctx)

	if err := p.store.PutHash(ctx, review.ResultKey(requestID), fields); err != nil {
		return fmt.Errorf("store result hash: %w", err)
	}
	if p.ttl > 0 {
		if err := p.store.ExpireKey(ctx, review.ResultKey(requestID), p.ttl); err != nil {
			// Non-fatal: the hash stays readable, it just outlives its
			// retention window.
			log.Warn("result hash expiry failed", "request_id", requestID, "error", err)
		}
	}
	if err := p.store.PublishTopic(ctx, review.StatusChannel(requestID), status); err != nil {
		// The durable hash is already written; pollers still see the
		// result even though push subscribers missed the wakeup.
		log.Error("status publish failed after hash write", "request_id", requestID, "error", err)
		return fmt.Errorf("publish status: %w", err)
	}

	log.Info("result published", "request_id", requestID, "status", status)
	return nil
}
