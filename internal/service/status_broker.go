package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-praktikum-api/internal/dto"
)

const statusBufferSize = 8

// StatusBroker fans submission status snapshots out to websocket subscribers. With NATS
// configured, snapshots are also published so subscribers on other API nodes see them; terminal
// snapshots on that subject double as verdict events for downstream consumers.
type StatusBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan dto.SubmissionStatusResponse]struct{}

	nats    *nats.Conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

type statusEvent struct {
	Source string                       `json:"source"`
	Status dto.SubmissionStatusResponse `json:"status"`
	SentAt time.Time                    `json:"sent_at"`
}

// NewStatusBroker constructs a broker. natsConn may be nil for a single node deployment.
func NewStatusBroker(natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *StatusBroker {
	subject := ""
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".submissions.status"
	}

	return &StatusBroker{
		subscribers: make(map[uint]map[chan dto.SubmissionStatusResponse]struct{}),
		nats:        natsConn,
		subject:     subject,
		nodeID:      uuid.NewString(),
		logger:      logger.With().Str("component", "status_broker").Logger(),
	}
}

// Start consumes snapshots published by other nodes until ctx ends.
func (b *StatusBroker) Start(ctx context.Context) {
	if b.nats == nil || b.subject == "" {
		return
	}

	sub, err := b.nats.Subscribe(b.subject, func(msg *nats.Msg) {
		b.handleEvent(msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to submission status subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain submission status subscription")
		}
	}()
}

// Subscribe registers a listener for one submission. The returned cleanup is safe to call twice.
func (b *StatusBroker) Subscribe(submissionID uint) (<-chan dto.SubmissionStatusResponse, func()) {
	channel := make(chan dto.SubmissionStatusResponse, statusBufferSize)

	b.mu.Lock()
	if _, exists := b.subscribers[submissionID]; !exists {
		b.subscribers[submissionID] = make(map[chan dto.SubmissionStatusResponse]struct{})
	}
	b.subscribers[submissionID][channel] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() { b.unsubscribe(submissionID, channel) })
	}

	return channel, cleanup
}

// Subscribers returns the number of local listeners for a submission.
func (b *StatusBroker) Subscribers(submissionID uint) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[submissionID])
}

// Publish delivers the snapshot to local listeners and to other nodes.
func (b *StatusBroker) Publish(status dto.SubmissionStatusResponse) {
	b.broadcast(status)

	if b.nats == nil || b.subject == "" {
		return
	}

	payload, err := json.Marshal(statusEvent{Source: b.nodeID, Status: status, SentAt: time.Now().UTC()})
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to encode submission status event")
		return
	}
	if err := b.nats.Publish(b.subject, payload); err != nil {
		b.logger.Warn().Err(err).Uint("submission_id", status.SubmissionID).Msg("failed to publish submission status event")
	}
}

func (b *StatusBroker) handleEvent(payload []byte) {
	var event statusEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Warn().Err(err).Msg("invalid submission status event payload")
		return
	}

	if event.Source == b.nodeID || event.Status.SubmissionID == 0 {
		return
	}

	b.broadcast(event.Status)
}

func (b *StatusBroker) unsubscribe(submissionID uint, ch chan dto.SubmissionStatusResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[submissionID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, submissionID)
		}
	}
}

func (b *StatusBroker) broadcast(status dto.SubmissionStatusResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[status.SubmissionID] {
		select {
		case ch <- status:
		default:
			// slow consumer; it will catch up on the next snapshot
		}
	}
}
