package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	names []string
	err   error
}

func (r *recordingSink) Emit(_ context.Context, name string, _ interface{}) error {
	r.names = append(r.names, name)
	return r.err
}

type accountPayload struct {
	AccountID string `json:"account_id"`
}

func (p accountPayload) PartitionKey() string { return p.AccountID }

func TestMultiSink_PartialFailureSucceeds(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("broker down")}
	sink := NewMultiSink(zaptest.NewLogger(t), bad, ok)

	require.NoError(t, sink.Emit(context.Background(), RealtimeAlertGenerated, nil))
	assert.Equal(t, []string{RealtimeAlertGenerated}, ok.names)
	assert.Equal(t, []string{RealtimeAlertGenerated}, bad.names)
}

func TestMultiSink_AllFail(t *testing.T) {
	sink := NewMultiSink(zaptest.NewLogger(t),
		&recordingSink{err: errors.New("a")},
		&recordingSink{err: errors.New("b")})

	err := sink.Emit(context.Background(), BatchPatternDetected, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all sinks failed")
}

func TestWebhookSink(t *testing.T) {
	var got Event
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Event-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, zaptest.NewLogger(t))
	require.NoError(t, sink.Emit(context.Background(), RealtimeAlertGenerated, accountPayload{AccountID: "acc-1"}))

	assert.Equal(t, RealtimeAlertGenerated, header)
	assert.Equal(t, RealtimeAlertGenerated, got.Name)
	assert.Equal(t, "amlstream", got.Source)
	assert.NotEmpty(t, got.ID)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, time.Second, zap.NewNop()).Emit(context.Background(), "x", nil)
	assert.Error(t, err)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Emit(context.Background(), HighRiskEscalated, accountPayload{AccountID: "acc-9"}))
	entries := logs.FilterField(zap.String("event", HighRiskEscalated)).All()
	assert.Len(t, entries, 1)
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, "acc-1", partitionKey(newEvent("x", accountPayload{AccountID: "acc-1"})))

	e := newEvent("x", map[string]string{})
	assert.Equal(t, e.ID, partitionKey(e))
}

func TestRedisStreamSink_Integration(t *testing.T) {
	addr := os.Getenv("AMLSTREAM_TEST_REDIS")
	if addr == "" {
		t.Skip("AMLSTREAM_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	sink := NewRedisStreamSink(client, "amlstream-test.events.", 100, zaptest.NewLogger(t))
	stream := sink.StreamKey(RealtimeAlertGenerated)
	defer client.Del(ctx, stream)

	require.NoError(t, sink.Emit(ctx, RealtimeAlertGenerated, accountPayload{AccountID: "acc-1"}))
	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "acc-1", msgs[0].Values["key"])
}
