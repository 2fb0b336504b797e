package bridge

import (
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/pkg/domain"
)

func testLogger() *logging.Logger {
	return &logging.Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

type sinkCall struct {
	target      string
	messageType domain.MessageType
	payload     any
}

type fakeSink struct {
	userCalls    []sinkCall
	channelCalls []sinkCall
}

func (f *fakeSink) SendToUser(userID string, messageType domain.MessageType, payload any) {
	f.userCalls = append(f.userCalls, sinkCall{userID, messageType, payload})
}

func (f *fakeSink) BroadcastToChannel(channel string, messageType domain.MessageType, payload any) {
	f.channelCalls = append(f.channelCalls, sinkCall{channel, messageType, payload})
}

func TestBridge_HandleUser(t *testing.T) {
	sink := &fakeSink{}
	bridge := NewBridge(nil, sink, "pulse", testLogger())

	bridge.handleUser(&nats.Msg{
		Subject: "pulse.user.user-1",
		Data:    []byte(`{"type":"credit_balance_update","payload":{"newBalance":900}}`),
	})

	require.Len(t, sink.userCalls, 1)
	assert.Equal(t, "user-1", sink.userCalls[0].target)
	assert.Equal(t, domain.MessageTypeCreditBalanceUpdate, sink.userCalls[0].messageType)
	assert.Empty(t, sink.channelCalls)
}

func TestBridge_HandleChannel(t *testing.T) {
	sink := &fakeSink{}
	bridge := NewBridge(nil, sink, "pulse", testLogger())

	bridge.handleChannel(&nats.Msg{
		Subject: "pulse.channel.feed:explore",
		Data:    []byte(`{"type":"feed_update","payload":{"type":"new_content","contentId":"c1"}}`),
	})

	require.Len(t, sink.channelCalls, 1)
	assert.Equal(t, "feed:explore", sink.channelCalls[0].target)
	assert.Equal(t, domain.MessageTypeFeedUpdate, sink.channelCalls[0].messageType)
}

func TestBridge_DropsMalformedEvents(t *testing.T) {
	sink := &fakeSink{}
	bridge := NewBridge(nil, sink, "pulse", testLogger())

	bridge.handleUser(&nats.Msg{
		Subject: "pulse.user.user-1",
		Data:    []byte(`not json`),
	})
	bridge.handleUser(&nats.Msg{
		Subject: "pulse.user.user-1",
		Data:    []byte(`{"payload":{}}`), // no type
	})
	bridge.handleUser(&nats.Msg{
		Subject: "pulse.user.", // empty target
		Data:    []byte(`{"type":"notification"}`),
	})
	bridge.handleChannel(&nats.Msg{
		Subject: "pulse.channel.",
		Data:    []byte(`{"type":"feed_update"}`),
	})

	assert.Empty(t, sink.userCalls)
	assert.Empty(t, sink.channelCalls)
}

type fakeConn struct {
	subjects []string
	err      error
}

func (f *fakeConn) Subscribe(subject string, _ nats.MsgHandler) (*nats.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	return &nats.Subscription{}, nil
}

func TestBridge_StartSubscribesSubjectTrees(t *testing.T) {
	nc := &fakeConn{}
	bridge := NewBridge(nc, &fakeSink{}, "pulse", testLogger())

	require.NoError(t, bridge.Start())
	assert.Equal(t, []string{"pulse.user.>", "pulse.channel.>"}, nc.subjects)
}
