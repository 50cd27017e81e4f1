package chatws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/campuslife/CampusChat/internal/models"
	"github.com/campuslife/CampusChat/internal/realtime"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, *realtime.LocalBroker) {
	t.Helper()

	logger := zap.NewNop()
	broker := realtime.NewLocalBroker(logger)
	hub := NewHub(broker, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, broker
}

func nextEvent(t *testing.T, client *Client) realtime.Event {
	t.Helper()

	select {
	case payload, ok := <-client.send:
		if !ok {
			t.Fatalf("client send channel closed")
		}
		var event realtime.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return realtime.Event{}
}

func TestHubDeliversOnlyToSubscribers(t *testing.T) {
	hub, broker := startHub(t)

	subscriber := NewClient(hub, nil, 1, 5, 10)
	bystander := NewClient(hub, nil, 2, 5, 10)
	hub.Register(subscriber)
	hub.Register(bystander)
	hub.Subscribe(subscriber, 10)
	hub.Subscribe(bystander, 11)

	if err := broker.Publish(context.Background(), realtime.Event{
		Type:           realtime.TypeChange,
		ConversationID: 10,
		Table:          models.TableMessages,
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	event := nextEvent(t, subscriber)
	if event.ConversationID != 10 || event.Table != models.TableMessages {
		t.Fatalf("unexpected event: %+v", event)
	}

	// A second event for the bystander's conversation proves nothing from
	// conversation 10 was queued ahead of it.
	if err := broker.Publish(context.Background(), realtime.Event{Type: realtime.TypeChange, ConversationID: 11}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if event := nextEvent(t, bystander); event.ConversationID != 11 {
		t.Fatalf("bystander received conversation %d", event.ConversationID)
	}
}

func TestHubDoesNotEchoTypingToTypist(t *testing.T) {
	hub, broker := startHub(t)

	typist := NewClient(hub, nil, 1, 5, 10)
	peer := NewClient(hub, nil, 2, 5, 10)
	for _, client := range []*Client{typist, peer} {
		hub.Register(client)
		hub.Subscribe(client, 10)
	}

	if err := broker.Publish(context.Background(), realtime.Event{
		Type:           realtime.TypeTyping,
		ConversationID: 10,
		UserID:         1,
		IsTyping:       true,
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := broker.Publish(context.Background(), realtime.Event{Type: realtime.TypeChange, ConversationID: 10}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if event := nextEvent(t, peer); event.Type != realtime.TypeTyping || event.UserID != 1 {
		t.Fatalf("peer expected typing event, got %+v", event)
	}
	if event := nextEvent(t, typist); event.Type != realtime.TypeChange {
		t.Fatalf("typist expected only the change event, got %+v", event)
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub, broker := startHub(t)

	client := NewClient(hub, nil, 1, 5, 10)
	hub.Register(client)
	hub.Subscribe(client, 10)
	hub.Subscribe(client, 12)
	hub.Unsubscribe(client, 10)

	for _, conversationID := range []int64{10, 12} {
		if err := broker.Publish(context.Background(), realtime.Event{Type: realtime.TypeChange, ConversationID: conversationID}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	if event := nextEvent(t, client); event.ConversationID != 12 {
		t.Fatalf("expected only conversation 12, got %d", event.ConversationID)
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub, _ := startHub(t)

	client := NewClient(hub, nil, 1, 5, 10)
	hub.Register(client)
	hub.Subscribe(client, 10)
	hub.Unregister(client)

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatalf("expected send channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("send channel was not closed")
	}
}

func TestHubCallsReturnAfterShutdown(t *testing.T) {
	logger := zap.NewNop()
	hub := NewHub(realtime.NewLocalBroker(logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	cancel()
	<-done

	client := NewClient(hub, nil, 1, 5, 10)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		hub.Register(client)
		hub.Subscribe(client, 1)
		hub.Unregister(client)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("hub calls blocked after shutdown")
	}
}

func TestHubRevokedMemberStopsReceiving(t *testing.T) {
	hub, broker := startHub(t)

	admin := NewClient(hub, nil, 1, 5, 10)
	removed := NewClient(hub, nil, 2, 5, 10)
	for _, client := range []*Client{admin, removed} {
		hub.Register(client)
		client.remember(10)
		hub.Subscribe(client, 10)
	}
	removed.remember(11)
	hub.Subscribe(removed, 11)

	events := []realtime.Event{
		{Type: realtime.TypeRevoked, ConversationID: 10, UserID: 2},
		{Type: realtime.TypeTyping, ConversationID: 10, UserID: 3, IsTyping: true},
		{Type: realtime.TypeChange, ConversationID: 10, Table: models.TableMembers},
		{Type: realtime.TypeChange, ConversationID: 11, Table: models.TableMessages},
	}
	for _, event := range events {
		if err := broker.Publish(context.Background(), event); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	if event := nextEvent(t, removed); event.Type != realtime.TypeRevoked || event.ConversationID != 10 {
		t.Fatalf("removed member expected the revocation first, got %+v", event)
	}
	// Conversation 11 is still open, so its event arriving next proves the
	// typing and change events for 10 were never queued.
	if event := nextEvent(t, removed); event.ConversationID != 11 {
		t.Fatalf("removed member received %+v", event)
	}
	if removed.isSubscribed(10) || !removed.isSubscribed(11) {
		t.Fatalf("expected typing rights for 10 only to be withdrawn")
	}

	if event := nextEvent(t, admin); event.Type != realtime.TypeTyping {
		t.Fatalf("admin expected typing event, got %+v", event)
	}
	if event := nextEvent(t, admin); event.Type != realtime.TypeChange {
		t.Fatalf("admin expected change event, got %+v", event)
	}
}
