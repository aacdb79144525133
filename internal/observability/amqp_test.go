package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
)

func TestPublishWSLifecycleCarriesCorrelationHeaders(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	var published WSLifecycle
	publisher.On("PublishJSON", mock.Anything, "messenger.ws.ws_connect",
		mock.AnythingOfType("observability.WSLifecycle"),
		map[string]string{"x-request-id": "req-1", "trace_id": "trace-1"}).
		Run(func(args mock.Arguments) { published = args.Get(2).(WSLifecycle) }).
		Return(nil).Once()
	SetPublisher(publisher)
	t.Cleanup(func() { SetPublisher(nil) })

	event := WSLifecycle{Name: "ws_connect", SessionID: "s1", UserID: 7, IP: "10.0.0.1"}
	require.NoError(t, PublishWSLifecycle(context.Background(), event, "req-1", "trace-1"))

	assert.Equal(t, "ws_connect", published.Name)
	assert.Equal(t, "s1", published.SessionID)
	assert.Equal(t, 7, published.UserID)
	assert.False(t, published.At.IsZero())
	publisher.AssertExpectations(t)
}

func TestPublishWSLifecycleWithoutPublisherIsNoop(t *testing.T) {
	SetPublisher(nil)
	require.NoError(t, PublishWSLifecycle(context.Background(), WSLifecycle{Name: "ws_disconnect"}, "", ""))
}

func TestWSRoutingKey(t *testing.T) {
	assert.Equal(t, "messenger.ws.ws_disconnect", WSRoutingKey("ws_disconnect"))
}
