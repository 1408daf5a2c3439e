package producerconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

const sampleDoc = `{
  "producers": [
    {
      "name": "acme",
      "host": "kafka.acme.internal",
      "port": 9092,
      "idp_client_id": "acme-producer",
      "products": [
        {
          "name": "orders",
          "topic": "orders-v1",
          "consumers": [
            {"idp_client_id": "consumer-a", "attributes": [{"name": "nationality", "value": "UK"}]}
          ]
        }
      ]
    }
  ]
}`

func TestRefreshPopulatesSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleDoc))
	}))
	defer server.Close()

	store := New(server.URL, 5*time.Second, logger.New("producerconfig-test"))
	require.NoError(t, store.Refresh(context.Background()))

	require.True(t, store.Authorized("consumer-a", "orders-v1"))
	require.False(t, store.Authorized("consumer-b", "orders-v1"))

	consumer, ok := store.FindConsumer("consumer-a", "orders-v1")
	require.True(t, ok)
	require.Equal(t, "nationality", consumer.Attributes[0].Name)
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	var fail bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleDoc))
	}))
	defer server.Close()

	store := New(server.URL, 5*time.Second, logger.New("producerconfig-test"))
	require.NoError(t, store.Refresh(context.Background()))
	require.True(t, store.Authorized("consumer-a", "orders-v1"))

	fail = true
	require.Error(t, store.Refresh(context.Background()))
	require.True(t, store.Authorized("consumer-a", "orders-v1"), "stale snapshot must remain in place after a failed refresh")
}
