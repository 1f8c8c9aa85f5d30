package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/eventbus"
	"github.com/kudokuapp/kudoku-server/pkg/rabbitmq"
)

type pendingEvent struct {
	event      eventbus.Event
	routingKey string
}

// pendingEvents collects events inside a unit of work; they are flushed only after commit.
type pendingEvents struct {
	items []pendingEvent
}

func (p *pendingEvents) add(topic, kind, routingKey string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("level=error component=events msg=\"failed to encode event payload\" topic=%s err=%v", topic, err)
		return
	}
	p.items = append(p.items, pendingEvent{
		event: eventbus.Event{
			Topic:   topic,
			Kind:    kind,
			Payload: raw,
		},
		routingKey: routingKey,
	})
}

func (p *pendingEvents) accountUpdated(account *domain.Account) {
	snapshot := *account
	p.add(domain.AccountUpdatedTopic(account.Type, account.ID), domain.AccountUpdated, rabbitmq.RoutingKeyAccountUpdated, &snapshot)
}

func (p *pendingEvents) accountDeleted(account *domain.Account) {
	snapshot := *account
	p.add(domain.AccountUpdatedTopic(account.Type, account.ID), domain.AccountDeleted, rabbitmq.RoutingKeyAccountUpdated, &snapshot)
}

func (p *pendingEvents) transactionChanged(kind string, tx *domain.Transaction) {
	snapshot := *tx
	p.add(domain.TransactionChangedTopic(tx.AccountID), kind, rabbitmq.RoutingKeyTransactionChanged, domain.TransactionEvent{
		Kind:        kind,
		Transaction: &snapshot,
	})
}

// publish delivers committed events to in-process subscribers and mirrors them to the broker.
// Failures are logged; the committed write is never rolled back because of them.
func (s *Service) publish(ctx context.Context, events *pendingEvents) {
	if events == nil {
		return
	}
	now := s.now()
	for _, item := range events.items {
		item.event.OccurredAt = now
		if s.bus != nil {
			if err := s.bus.Publish(ctx, item.event); err != nil {
				log.Printf("level=warn component=events msg=\"bus publish failed\" topic=%s err=%v", item.event.Topic, err)
			}
		}
		if err := s.publisher.Publish(ctx, s.opts.EventsExchange, item.routingKey, item.event); err != nil && !errors.Is(err, rabbitmq.ErrUnavailable) {
			log.Printf("level=warn component=events msg=\"broker publish failed\" routing_key=%s topic=%s err=%v", item.routingKey, item.event.Topic, err)
		}
	}
}

// SubscribeAccount streams the account-updated and transaction-changed topics of one
// of the caller's accounts until ctx is done.
func (s *Service) SubscribeAccount(ctx context.Context, userID, accountID uuid.UUID) (<-chan eventbus.Event, error) {
	if s.bus == nil {
		return nil, ErrProviderNotConfigured
	}
	account, err := ownedAccount(ctx, s.repo, userID, accountID, false)
	if err != nil {
		return nil, err
	}
	return s.bus.Subscribe(ctx,
		domain.AccountUpdatedTopic(account.Type, account.ID),
		domain.TransactionChangedTopic(account.ID),
	)
}
