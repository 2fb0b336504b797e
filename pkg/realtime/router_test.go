package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumaworks/pulse/pkg/domain"
)

func TestRouter_SendToUser(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	router := NewRouter(registry, testLogger(), nil, nil)

	targetWire := &fakeWire{}
	otherWire := &fakeWire{}
	registry.Admit(targetWire, "user-1")
	registry.Admit(otherWire, "user-2")

	router.GenerationProgress("user-1", domain.GenerationProgressPayload{
		JobID:    "job-1",
		Progress: 0.5,
		Status:   "processing",
	})

	received := targetWire.received()
	require.Len(t, received, 2) // admission confirmation plus the event

	env := received[1]
	assert.Equal(t, domain.MessageTypeGenerationProgress, env.Type)
	assert.Equal(t, "user-1", env.UserID)
	assert.False(t, env.Timestamp.IsZero())

	var payload domain.GenerationProgressPayload
	require.NoError(t, env.Decode(&payload))
	assert.Equal(t, "job-1", payload.JobID)
	assert.InDelta(t, 0.5, payload.Progress, 1e-9)

	// The other user saw only their admission confirmation.
	assert.Len(t, otherWire.received(), 1)
}

func TestRouter_SendToUserFansOutToAllConnections(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	router := NewRouter(registry, testLogger(), nil, nil)

	phone := &fakeWire{}
	tablet := &fakeWire{}
	registry.Admit(phone, "user-1")
	registry.Admit(tablet, "user-1")

	router.CreditBalanceUpdate("user-1", 950, json.RawMessage(`{"amount":-50}`))

	assert.Len(t, phone.received(), 2)
	assert.Len(t, tablet.received(), 2)
	assert.Equal(t, int64(2), router.Delivered())
}

func TestRouter_SendToUserNoRecipients(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	router := NewRouter(registry, testLogger(), nil, nil)

	// No connection for this user: the event is dropped silently.
	router.Notify("user-offline", map[string]string{"title": "hello"})

	assert.Equal(t, int64(0), router.Delivered())
}

func TestRouter_BroadcastToChannel(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	router := NewRouter(registry, testLogger(), nil, nil)

	subscriber := &fakeWire{}
	bystander := &fakeWire{}
	subConn := registry.Admit(subscriber, "user-1")
	registry.Admit(bystander, "user-2")
	registry.Subscribe(subConn.ID(), []string{"feed:explore"})

	router.FeedUpdate("feed:explore", domain.FeedUpdatePayload{
		Type:      domain.FeedUpdateNewContent,
		ContentID: "content-1",
	})

	received := subscriber.received()
	require.Len(t, received, 2)
	assert.Equal(t, domain.MessageTypeFeedUpdate, received[1].Type)

	var payload domain.FeedUpdatePayload
	require.NoError(t, received[1].Decode(&payload))
	assert.Equal(t, domain.FeedUpdateNewContent, payload.Type)
	assert.Equal(t, "content-1", payload.ContentID)

	assert.Len(t, bystander.received(), 1)
}

func TestRouter_BroadcastToChannelNoSubscribers(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	router := NewRouter(registry, testLogger(), nil, nil)

	router.FeedUpdate("feed:empty", domain.FeedUpdatePayload{Type: domain.FeedUpdateLike})

	assert.Equal(t, int64(0), router.Delivered())
}

func TestRouter_DeliveryFailureIsolation(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	router := NewRouter(registry, testLogger(), nil, nil)

	healthy := &fakeWire{}
	broken := &fakeWire{failWith: domain.ErrSendBufferFull}
	registry.Admit(healthy, "user-1")
	brokenConn := registry.Admit(broken, "user-1")

	router.TrainingProgress("user-1", domain.TrainingProgressPayload{
		JobID:    "train-1",
		Progress: 0.25,
		Status:   "training",
	})

	// The healthy connection still received the event.
	received := healthy.received()
	require.Len(t, received, 2)
	assert.Equal(t, domain.MessageTypeTrainingProgress, received[1].Type)

	// The broken connection was removed and closed.
	assert.True(t, broken.isClosed())
	assert.Nil(t, registry.Subscriptions(brokenConn.ID()))
	assert.Len(t, registry.FindByUser("user-1"), 1)

	assert.Equal(t, int64(1), router.Delivered())
}

func TestRouter_MessageTypes(t *testing.T) {
	registry := NewRegistry(testLogger(), nil)
	router := NewRouter(registry, testLogger(), nil, nil)

	wire := &fakeWire{}
	registry.Admit(wire, "user-1")

	router.GenerationProgress("user-1", domain.GenerationProgressPayload{JobID: "j"})
	router.TrainingProgress("user-1", domain.TrainingProgressPayload{JobID: "j"})
	router.CreditBalanceUpdate("user-1", 100, nil)
	router.Notify("user-1", map[string]string{"title": "t"})

	received := wire.received()
	require.Len(t, received, 5)
	assert.Equal(t, domain.MessageTypeGenerationProgress, received[1].Type)
	assert.Equal(t, domain.MessageTypeTrainingProgress, received[2].Type)
	assert.Equal(t, domain.MessageTypeCreditBalanceUpdate, received[3].Type)
	assert.Equal(t, domain.MessageTypeNotification, received[4].Type)
}
