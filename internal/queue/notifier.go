package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MatchCreatedChannel carries one message per newly created match.
const MatchCreatedChannel = "oppfinder.match.created"

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type matchEvent struct {
	Type          string    `json:"type"`
	MatchID       int64     `json:"matchId"`
	UserID        int64     `json:"userId"`
	OpportunityID int64     `json:"opportunityId"`
	Score         float64   `json:"score"`
	Justification string    `json:"justification"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Notifier publishes new matches on Redis pub/sub for whatever delivers
// notifications. Publishing is fire-and-forget.
type Notifier struct {
	rdb publisher
	log *zap.Logger
}

func NewNotifier(rdb publisher, log *zap.Logger) *Notifier {
	return &Notifier{rdb: rdb, log: logger.WithFields(log)}
}

func (n *Notifier) MatchCreated(ctx context.Context, m *model.Match) error {
	event, err := json.Marshal(matchEvent{
		Type:          "EVENT_MATCH_CREATED",
		MatchID:       m.ID,
		UserID:        m.UserID,
		OpportunityID: m.OpportunityID,
		Score:         m.Score,
		Justification: m.Justification,
		CreatedAt:     m.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode match event: %w", err)
	}
	if err := n.rdb.Publish(ctx, MatchCreatedChannel, event).Err(); err != nil {
		n.log.Warn("publish match event failed",
			logger.UserID(m.UserID),
			logger.OpportunityID(m.OpportunityID),
			zap.Error(err))
	}
	return nil
}
