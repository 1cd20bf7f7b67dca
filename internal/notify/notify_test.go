package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ShayCichocki/stagehand/internal/pipeline"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

func stateChanged(id string) pipeline.Event {
	return pipeline.Event{
		Type:      pipeline.EventStateChanged,
		Owner:     models.TaskRef(id),
		Timestamp: time.Now(),
		Payload:   pipeline.StateChange{From: models.StageResearch, To: models.StagePlanning, Cause: "auto"},
	}
}

func TestFanout(t *testing.T) {
	var got []string
	record := func(name string, err error) pipeline.Notifier {
		return pipeline.NotifierFunc(func(context.Context, pipeline.Event) error {
			got = append(got, name)
			return err
		})
	}
	boom := errors.New("boom")

	f := Fanout{record("a", nil), nil, record("b", boom), record("c", nil)}
	err := f.Notify(context.Background(), stateChanged("t-1"))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b", "c"}, got, "delivery continues past a failure")
	assert.NoError(t, Fanout{}.Notify(context.Background(), stateChanged("t-1")))
}

func TestEmitter_DeliversInOrder(t *testing.T) {
	e := NewEmitter(4, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, e.Notify(ctx, stateChanged("t-1")))
	require.NoError(t, e.Notify(ctx, stateChanged("t-2")))
	e.Close()

	var ids []string
	for ev := range e.Events() {
		ids = append(ids, ev.Owner.ID)
	}
	assert.Equal(t, []string{"t-1", "t-2"}, ids)
	assert.Zero(t, e.DroppedCount())
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	e := NewEmitter(1, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, e.Notify(ctx, stateChanged("t-1")))
	start := time.Now()
	require.NoError(t, e.Notify(ctx, stateChanged("t-2")))

	assert.GreaterOrEqual(t, time.Since(start), sendTimeout)
	assert.Equal(t, uint64(1), e.DroppedCount())
	assert.Equal(t, "t-1", (<-e.Events()).Owner.ID)
}

func TestEmitter_DropsOnCancelledContext(t *testing.T) {
	e := NewEmitter(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, e.Notify(ctx, stateChanged("t-1")), "buffer has room")
	require.NoError(t, e.Notify(ctx, stateChanged("t-2")))
	assert.Equal(t, uint64(1), e.DroppedCount())
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(server.Shutdown)
	return server
}

func TestNATSNotifier_Publishes(t *testing.T) {
	server := startTestNATSServer(t)
	logger := zaptest.NewLogger(t)

	nc, err := Connect(server.ClientURL(), logger)
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("stagehand.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	n := NewNATSNotifier(nc, "")
	assert.Equal(t, "stagehand.item.state_changed", n.Subject(pipeline.EventStateChanged))
	require.NoError(t, n.Notify(context.Background(), stateChanged("t-7")))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "stagehand.item.state_changed", msg.Subject)

	var decoded struct {
		Type    string         `json:"type"`
		Owner   models.ItemRef `json:"owner"`
		Payload struct {
			From  string `json:"from"`
			To    string `json:"to"`
			Cause string `json:"cause"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "item.state_changed", decoded.Type)
	assert.Equal(t, models.TaskRef("t-7"), decoded.Owner)
	assert.Equal(t, "research", decoded.Payload.From)
	assert.Equal(t, "planning", decoded.Payload.To)
}

func TestNATSNotifier_CustomPrefix(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	n := NewNATSNotifier(nc, "ci.stagehand")
	assert.Equal(t, "ci.stagehand.gate.requested", n.Subject(pipeline.EventGateRequested))
}
