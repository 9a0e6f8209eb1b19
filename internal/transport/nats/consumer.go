// Package nats feeds sandbox verdicts delivered over NATS into the judging core.
package nats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"contest-rating-service/internal/domain"
)

const queueGroup = "verdict-recorders"

// VerdictRecorder applies one verdict event.
type VerdictRecorder interface {
	RecordVerdict(ctx context.Context, event domain.VerdictEvent) (domain.Submission, error)
}

// Reply bodies for request-style deliveries. A sender that gets "retry" should
// redeliver; "applied", "duplicate" and "rejected" are final.
const (
	replyApplied   = "applied"
	replyDuplicate = "duplicate"
	replyRejected  = "rejected"
	replyRetry     = "retry"
)

// Consumer is a queue subscriber on the verdict subject. Every instance joins the
// same queue group so each delivery is handled by one replica.
type Consumer struct {
	conn     *nats.Conn
	subject  string
	recorder VerdictRecorder
	logger   zerolog.Logger
}

func NewConsumer(conn *nats.Conn, subject string, recorder VerdictRecorder, logger zerolog.Logger) *Consumer {
	return &Consumer{
		conn:     conn,
		subject:  subject,
		recorder: recorder,
		logger:   logger.With().Str("component", "verdict_consumer").Logger(),
	}
}

// Start subscribes and drains the subscription once ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.conn.QueueSubscribe(c.subject, queueGroup, func(msg *nats.Msg) {
		reply := c.handle(ctx, msg.Data)
		if msg.Reply != "" {
			if err := msg.Respond([]byte(reply)); err != nil {
				c.logger.Warn().Err(err).Msg("failed to answer verdict delivery")
			}
		}
	})
	if err != nil {
		return err
	}
	c.logger.Info().Str("subject", c.subject).Str("queue", queueGroup).Msg("verdict consumer subscribed")

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to drain verdict subscription")
		}
	}()
	return nil
}

func (c *Consumer) handle(ctx context.Context, data []byte) string {
	var event domain.VerdictEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn().Err(err).Msg("dropping undecodable verdict")
		return replyRejected
	}

	_, err := c.recorder.RecordVerdict(ctx, event)
	switch {
	case err == nil:
		return replyApplied
	case errors.Is(err, domain.ErrAlreadyJudged):
		c.logger.Debug().Int64("submission_id", event.SubmissionID).Msg("duplicate verdict acknowledged")
		return replyDuplicate
	case domain.KindOf(err) == domain.KindInternal:
		c.logger.Error().Err(err).Int64("submission_id", event.SubmissionID).Msg("verdict not recorded")
		return replyRetry
	default:
		c.logger.Warn().Err(err).Int64("submission_id", event.SubmissionID).Msg("verdict rejected")
		return replyRejected
	}
}
