package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/buddychat/buddychat-api/internal/observability"
)

// Publisher delivers an operation event to a recipient's channel. Delivery is
// fire-and-forget: a transport failure is logged and never surfaced to the
// mutation that triggered it.
type Publisher interface {
	Publish(ctx context.Context, userID uint, payload Payload)
}

// BridgePublisher fans events out to the local hub and relays them across
// nodes over redis pub/sub and NATS, suppressing its own echoes by node id.
type BridgePublisher struct {
	hub         *Hub
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	nodeID      string
}

type bridgeEvent struct {
	Source  string    `json:"source"`
	UserID  uint      `json:"user_id"`
	Payload Payload   `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// NewBridgePublisher wires the hub to the cross-node transports. Both redis
// and NATS are optional; with neither, events stay node-local.
func NewBridgePublisher(hub *Hub, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) *BridgePublisher {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &BridgePublisher{
		hub:         hub,
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "event_publisher").Logger(),
		nodeID:      uuid.NewString(),
	}
}

// Start launches the cross-node consumers. They stop when ctx is cancelled.
func (p *BridgePublisher) Start(ctx context.Context) {
	if p.redis != nil && p.redisStream != "" {
		go p.consumeRedis(ctx)
	}
	if p.nats != nil && p.natsSubject != "" {
		go p.consumeNATS(ctx)
	}
}

func (p *BridgePublisher) Publish(ctx context.Context, userID uint, payload Payload) {
	p.hub.Publish(userID, payload)
	observability.EventsPublished().WithLabelValues(string(payload.Operation)).Inc()

	if p.redis == nil && p.nats == nil {
		return
	}

	event := bridgeEvent{
		Source:  p.nodeID,
		UserID:  userID,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to marshal realtime event")
		return
	}

	if p.redis != nil && p.redisStream != "" {
		if err := p.redis.Publish(ctx, p.redisStream, data).Err(); err != nil {
			p.logger.Warn().Err(err).Uint("user_id", userID).Msg("redis event delivery failed")
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, data); err != nil {
			p.logger.Warn().Err(err).Uint("user_id", userID).Msg("nats event delivery failed")
		}
	}
}

func (p *BridgePublisher) consumeRedis(ctx context.Context) {
	pubsub := p.redis.Subscribe(ctx, p.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error().Err(err).Msg("realtime redis subscription closed")
			return
		}
		p.handleRemote([]byte(msg.Payload))
	}
}

func (p *BridgePublisher) consumeNATS(ctx context.Context) {
	sub, err := p.nats.QueueSubscribe(p.natsSubject, "buddychat-events", func(msg *nats.Msg) {
		p.handleRemote(msg.Data)
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to subscribe to nats events subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to drain nats events subscription")
		}
	}()
}

func (p *BridgePublisher) handleRemote(data []byte) {
	var event bridgeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		p.logger.Warn().Err(err).Msg("invalid realtime event")
		return
	}

	if event.Source == p.nodeID {
		return
	}

	p.hub.Publish(event.UserID, event.Payload)
}
