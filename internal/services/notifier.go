package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bounty-escrow/internal/metrics"
)

type EventType string

const (
	EventTransactionOpened    EventType = "transaction_opened"
	EventTransactionFunded    EventType = "transaction_funded"
	EventTransactionDelivered EventType = "transaction_delivered"
	EventTransactionDisputed  EventType = "transaction_disputed"
	EventTransactionReleased  EventType = "transaction_released"
	EventTransactionRefunded  EventType = "transaction_refunded"
	EventProposalSubmitted    EventType = "proposal_submitted"
	EventProposalAccepted     EventType = "proposal_accepted"
	EventProposalRejected     EventType = "proposal_rejected"
)

// Event is a notification for one participant
type Event struct {
	Type          EventType  `json:"type"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	ListingID     *uuid.UUID `json:"listing_id,omitempty"`
	ProposalID    *uuid.UUID `json:"proposal_id,omitempty"`
	At            time.Time  `json:"at"`
}

// NotificationSink delivers events to participants
type NotificationSink interface {
	Notify(ctx context.Context, agentID uuid.UUID, event Event) error
}

// LogSink writes notifications to the log
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, agentID uuid.UUID, event Event) error {
	s.logger.Info("notification",
		zap.String("agent_id", agentID.String()),
		zap.String("type", string(event.Type)),
		zap.Any("transaction_id", event.TransactionID),
		zap.Any("listing_id", event.ListingID),
	)
	return nil
}

type notification struct {
	agentID uuid.UUID
	event   Event
}

// Notifier dispatches events to a sink from a single goroutine. Publishing
// never blocks: when the queue is full the event is dropped.
type Notifier struct {
	sink     NotificationSink
	queue    chan notification
	logger   *zap.Logger
	metrics  *metrics.Metrics
	stopChan chan struct{}
	done     sync.WaitGroup
	stopOnce sync.Once
}

func NewNotifier(sink NotificationSink, queueSize int, logger *zap.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		sink:     sink,
		queue:    make(chan notification, queueSize),
		logger:   logger,
		metrics:  m,
		stopChan: make(chan struct{}),
	}
}

// Start starts the dispatcher goroutine
func (n *Notifier) Start() {
	n.done.Add(1)
	go n.run()
}

// Stop drains what is already queued and stops the dispatcher
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopChan)
		n.done.Wait()
	})
}

// Publish queues an event for each recipient
func (n *Notifier) Publish(event Event, recipients ...uuid.UUID) {
	if n == nil {
		return
	}
	for _, agentID := range recipients {
		select {
		case n.queue <- notification{agentID: agentID, event: event}:
		default:
			n.metrics.NotificationsDrop.Inc()
			n.logger.Warn("notification queue full, dropping event",
				zap.String("agent_id", agentID.String()),
				zap.String("type", string(event.Type)),
			)
		}
	}
}

func (n *Notifier) run() {
	defer n.done.Done()
	for {
		select {
		case item := <-n.queue:
			n.deliver(item)
		case <-n.stopChan:
			for {
				select {
				case item := <-n.queue:
					n.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(item notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.sink.Notify(ctx, item.agentID, item.event); err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("agent_id", item.agentID.String()),
			zap.String("type", string(item.event.Type)),
			zap.Error(err),
		)
	}
}
