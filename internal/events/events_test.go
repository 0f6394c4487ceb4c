package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConsumer struct {
	name   string
	mu     sync.Mutex
	events []ModelEvent
	fail   bool
	panics bool
}

func (r *recordingConsumer) Name() string { return r.name }

func (r *recordingConsumer) ProcessEvent(e ModelEvent) error {
	if r.panics {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.fail {
		return fmt.Errorf("consumer failed")
	}
	return nil
}

func (r *recordingConsumer) versions() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Version)
	}
	return out
}

func TestBusDeliversInOrder(t *testing.T) {
	t.Parallel()
	bus := NewBus(DefaultConfig())
	c := &recordingConsumer{name: "rec"}
	require.NoError(t, bus.RegisterConsumer(c))

	for v := uint64(1); v <= 5; v++ {
		assert.True(t, bus.TryPublish(ModelEvent{Kind: KindModelUpdated, Version: v}))
	}
	require.NoError(t, bus.Shutdown(time.Second))

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, c.versions())
	stats := bus.Stats()
	assert.Equal(t, uint64(5), stats.EventsReceived)
	assert.Equal(t, uint64(5), stats.EventsProcessed)
}

func TestBusWithoutConsumersDrops(t *testing.T) {
	t.Parallel()
	bus := NewBus(DefaultConfig())
	assert.False(t, bus.TryPublish(ModelEvent{Version: 1}))
	require.NoError(t, bus.Shutdown(time.Second))
}

func TestBusRejectsDuplicateConsumer(t *testing.T) {
	t.Parallel()
	bus := NewBus(DefaultConfig())
	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "a"}))
	require.Error(t, bus.RegisterConsumer(&recordingConsumer{name: "a"}))
	require.NoError(t, bus.Shutdown(time.Second))
}

func TestBusIsolatesFailingConsumers(t *testing.T) {
	t.Parallel()
	bus := NewBus(DefaultConfig())
	good := &recordingConsumer{name: "good"}
	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "panics", panics: true}))
	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "fails", fail: true}))
	require.NoError(t, bus.RegisterConsumer(good))

	assert.True(t, bus.TryPublish(ModelEvent{Kind: KindModelUpdated, Version: 1}))
	require.NoError(t, bus.Shutdown(time.Second))

	assert.Equal(t, []uint64{1}, good.versions())
	assert.Equal(t, uint64(2), bus.Stats().ConsumerErrors)
}

func TestNilBusIsSafe(t *testing.T) {
	t.Parallel()
	var bus *Bus
	assert.False(t, bus.TryPublish(ModelEvent{}))
	assert.NoError(t, bus.Shutdown(time.Millisecond))
	assert.Equal(t, Stats{}, bus.Stats())
}

// fakeToken completes immediately with err
type fakeToken struct{ err error }

func (f *fakeToken) Wait() bool                     { return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (f *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (f *fakeToken) Error() error { return f.err }

type published struct {
	topic   string
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	messages   []published
}

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = f.connectErr == nil
	return &fakeToken{err: f.connectErr}
}

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload any) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := payload.([]byte)
	f.messages = append(f.messages, published{topic: topic, retain: retained, payload: data})
	return &fakeToken{}
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func TestMQTTPublisherTopics(t *testing.T) {
	t.Parallel()
	p := NewMQTTPublisher(MQTTConfig{Topic: "deepfake/model", Retain: true})
	client := &fakeClient{}
	require.NoError(t, p.connectWith(client))

	require.NoError(t, p.ProcessEvent(ModelEvent{Kind: KindModelUpdated, Version: 2, PreviousVersion: 1}))
	require.NoError(t, p.ProcessEvent(ModelEvent{Kind: KindTrainingFailed, Version: 2, Error: "diverged"}))

	require.Len(t, client.messages, 2)
	assert.Equal(t, "deepfake/model", client.messages[0].topic)
	assert.True(t, client.messages[0].retain)
	assert.Equal(t, "deepfake/model/errors", client.messages[1].topic)
	assert.False(t, client.messages[1].retain)

	var decoded ModelEvent
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &decoded))
	assert.Equal(t, uint64(2), decoded.Version)
	assert.Equal(t, KindModelUpdated, decoded.Kind)

	p.Disconnect()
	assert.Error(t, p.ProcessEvent(ModelEvent{Kind: KindModelUpdated}))
}

func TestMQTTPublisherConnectFailure(t *testing.T) {
	t.Parallel()
	p := NewMQTTPublisher(MQTTConfig{Topic: "t"})
	require.Error(t, p.connectWith(&fakeClient{connectErr: fmt.Errorf("refused")}))
	assert.Error(t, p.ProcessEvent(ModelEvent{Kind: KindModelUpdated}))
}

func TestMQTTPublisherRejectsBadBroker(t *testing.T) {
	t.Parallel()
	p := NewMQTTPublisher(MQTTConfig{Broker: "://bad"})
	require.Error(t, p.Connect(t.Context()))
}
