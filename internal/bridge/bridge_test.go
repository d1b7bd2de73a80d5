package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/airzone-controller/internal/config"
	"github.com/thatsimonsguy/airzone-controller/internal/model"
	"github.com/thatsimonsguy/airzone-controller/internal/modes"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakeClient struct {
	mu           sync.Mutex
	published    []published
	subscribed   []string
	disconnected bool
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return doneToken{} }
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s string
	switch p := payload.(type) {
	case string:
		s = p
	case []byte:
		s = string(p)
	}
	c.published = append(c.published, published{topic: topic, retained: retained, payload: s})
	return doneToken{}
}
func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return doneToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token        { return doneToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

type zoneWrite struct {
	sid, zid int
	fields   map[string]any
}

type fakeCommander struct {
	mu        sync.Mutex
	zones     []zoneWrite
	modes     map[int]modes.Mode
	failZones bool
}

func (f *fakeCommander) SetZoneParams(_ context.Context, sid, zid int, fields map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failZones {
		return nil, errors.New("update failed")
	}
	f.zones = append(f.zones, zoneWrite{sid, zid, fields})
	return nil, nil
}

func (f *fakeCommander) SetSystemMode(_ context.Context, sid int, mode modes.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modes == nil {
		f.modes = make(map[int]modes.Mode)
	}
	f.modes[sid] = mode
	return nil
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "home/airzone"}

	assert.Equal(t, "home/airzone/status", topics.Status())
	assert.Equal(t, "home/airzone/zone/1/3/state", topics.ZoneState(1, 3))
	assert.Equal(t, "home/airzone/zone/1/3/set", topics.ZoneCommand(1, 3))
	assert.Equal(t, "home/airzone/system/2/state", topics.SystemState(2))
	assert.Equal(t, "home/airzone/system/2/mode/set", topics.SystemModeCommand(2))
	assert.Equal(t, "home/airzone/iaq/1/1/state", topics.IAQState(1, 1))
	assert.Equal(t, "home/airzone/zone/+/+/set", topics.ZoneCommandFilter())
}

func TestParseZoneCommand(t *testing.T) {
	topics := Topics{Prefix: "airzone"}

	tests := []struct {
		topic    string
		sid, zid int
		ok       bool
	}{
		{"airzone/zone/1/4/set", 1, 4, true},
		{"airzone/zone/1/4/state", 0, 0, false},
		{"airzone/zone/x/4/set", 0, 0, false},
		{"other/zone/1/4/set", 0, 0, false},
		{"airzone/zone/1/set", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			sid, zid, ok := topics.ParseZoneCommand(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.sid, sid)
			assert.Equal(t, tt.zid, zid)
		})
	}

	sid, ok := topics.ParseSystemModeCommand(topics.SystemModeCommand(3))
	assert.True(t, ok)
	assert.Equal(t, 3, sid)
	_, ok = topics.ParseSystemModeCommand("airzone/system/3/eco/set")
	assert.False(t, ok)
}

func TestOnConnectAnnouncesAndSubscribes(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Topics{Prefix: "airzone"}, &fakeCommander{})

	b.OnConnect(client)

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, published{topic: "airzone/status", retained: true, payload: "online"}, msgs[0])
	assert.ElementsMatch(t, []string{"airzone/zone/+/+/set", "airzone/system/+/mode/set"}, client.subscribed)
}

func TestPublishSnapshotOnlyChanges(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Topics{Prefix: "airzone"}, &fakeCommander{})

	snap := model.NewSnapshot()
	snap.Zones[model.ZoneKey{SystemID: 1, ZoneID: 1}] = model.Payload{"systemID": 1, "zoneID": 1, "roomTemp": 22.5}
	snap.Systems[1] = model.Payload{"systemID": 1}
	snap.IAQs[model.IAQKey{SystemID: 1, IAQID: 1}] = model.Payload{"co2_value": 600}

	b.PublishSnapshot(snap)
	msgs := client.messages()
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.True(t, m.retained)
	}

	var zone map[string]any
	for _, m := range msgs {
		if m.topic == "airzone/zone/1/1/state" {
			require.NoError(t, json.Unmarshal([]byte(m.payload), &zone))
		}
	}
	assert.Equal(t, 22.5, zone["roomTemp"])

	b.PublishSnapshot(snap)
	assert.Len(t, client.messages(), 3)

	next := model.NewSnapshot()
	next.Zones[model.ZoneKey{SystemID: 1, ZoneID: 1}] = model.Payload{"systemID": 1, "zoneID": 1, "roomTemp": 23.0}
	b.PublishSnapshot(next)
	assert.Len(t, client.messages(), 4)

	// A reconnect forgets what was sent.
	b.OnConnect(client)
	b.PublishSnapshot(next)
	assert.Len(t, client.messages(), 6)
}

func TestHandleZoneCommand(t *testing.T) {
	cmd := &fakeCommander{}
	b := New(&fakeClient{}, Topics{Prefix: "airzone"}, cmd)
	ctx := context.Background()

	require.NoError(t, b.HandleCommand(ctx, "airzone/zone/1/2/set", []byte(`{"setpoint": 21.5}`)))
	require.NoError(t, b.HandleCommand(ctx, "airzone/zone/1/3/set", []byte(`{"hvac_mode": "heat"}`)))
	require.NoError(t, b.HandleCommand(ctx, "airzone/zone/1/4/set", []byte(`{"hvac_mode": "off"}`)))

	require.Len(t, cmd.zones, 3)
	assert.Equal(t, zoneWrite{1, 2, map[string]any{"setpoint": 21.5}}, cmd.zones[0])
	assert.Equal(t, zoneWrite{1, 3, map[string]any{"on": 1, "mode": 2}}, cmd.zones[1])
	assert.Equal(t, zoneWrite{1, 4, map[string]any{"on": 0}}, cmd.zones[2])
}

func TestHandleCommandErrors(t *testing.T) {
	cmd := &fakeCommander{}
	b := New(&fakeClient{}, Topics{Prefix: "airzone"}, cmd)
	ctx := context.Background()

	assert.ErrorIs(t, b.HandleCommand(ctx, "airzone/zone/1/2/set", []byte(`not json`)), ErrBadCommand)
	assert.ErrorIs(t, b.HandleCommand(ctx, "airzone/zone/1/2/set", []byte(`{}`)), ErrBadCommand)
	assert.ErrorIs(t, b.HandleCommand(ctx, "airzone/zone/1/2/set", []byte(`{"hvac_mode": "turbo"}`)), ErrBadCommand)
	assert.ErrorIs(t, b.HandleCommand(ctx, "airzone/system/1/mode/set", []byte(`turbo`)), ErrBadCommand)
	assert.ErrorIs(t, b.HandleCommand(ctx, "airzone/unknown", []byte(`{}`)), ErrBadCommand)
	assert.Empty(t, cmd.zones)

	cmd.failZones = true
	err := b.HandleCommand(ctx, "airzone/zone/1/2/set", []byte(`{"on": 1}`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadCommand)
}

func TestHandleSystemModeCommand(t *testing.T) {
	cmd := &fakeCommander{}
	b := New(&fakeClient{}, Topics{Prefix: "airzone"}, cmd)

	require.NoError(t, b.HandleCommand(context.Background(), "airzone/system/1/mode/set", []byte(` "Cool" `)))
	assert.Equal(t, modes.Cool, cmd.modes[1])
}

func TestCloseGoesOffline(t *testing.T) {
	client := &fakeClient{}
	b := New(client, Topics{Prefix: "airzone"}, &fakeCommander{})

	b.Close()

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "offline", msgs[0].payload)
	assert.True(t, client.disconnected)
}

func TestClientOptions(t *testing.T) {
	opts := ClientOptions(config.MQTT{Broker: "tcp://broker:1883", Username: "u"}, Topics{Prefix: "airzone"})

	assert.Equal(t, "airzone-controller", opts.ClientID)
	assert.Equal(t, "u", opts.Username)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "airzone/status", opts.WillTopic)
	assert.Equal(t, []byte("offline"), opts.WillPayload)
	assert.True(t, opts.WillRetained)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
}
