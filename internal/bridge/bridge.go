// Package bridge mirrors coordinator snapshots onto MQTT as retained JSON state
// topics and turns command topics into coordinator writes.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/config"
	"github.com/thatsimonsguy/airzone-controller/internal/model"
	"github.com/thatsimonsguy/airzone-controller/internal/modes"
)

const (
	online  = "online"
	offline = "offline"

	commandTimeout = 10 * time.Second
)

var ErrBadCommand = errors.New("bad command")

// Commander is the write side of the coordinator.
type Commander interface {
	SetZoneParams(ctx context.Context, systemID, zoneID int, fields map[string]any) (any, error)
	SetSystemMode(ctx context.Context, systemID int, mode modes.Mode) error
}

type Bridge struct {
	client mqtt.Client
	topics Topics
	cmd    Commander

	mu   sync.Mutex
	last map[string]string
}

// ClientOptions builds paho options for cfg. The status topic doubles as the last
// will, so subscribers see "offline" when the service dies.
func ClientOptions(cfg config.MQTT, topics Topics) *mqtt.ClientOptions {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "airzone-controller"
	}
	return mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetWill(topics.Status(), offline, 1, true).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
			log.Info().Msg("MQTT reconnecting")
		})
}

func New(client mqtt.Client, topics Topics, cmd Commander) *Bridge {
	return &Bridge{
		client: client,
		topics: topics,
		cmd:    cmd,
		last:   make(map[string]string),
	}
}

// OnConnect announces the bridge and (re)subscribes to command topics. It is meant
// to be installed as the paho OnConnect handler so it reruns after reconnects.
func (b *Bridge) OnConnect(client mqtt.Client) {
	b.mu.Lock()
	// Retained state may have been lost with the broker; republish everything.
	b.last = make(map[string]string)
	b.mu.Unlock()

	if t := client.Publish(b.topics.Status(), 1, true, online); t.Wait() && t.Error() != nil {
		log.Error().Err(t.Error()).Msg("MQTT status publish failed")
	}

	handlers := map[string]mqtt.MessageHandler{
		b.topics.ZoneCommandFilter():       b.onMessage,
		b.topics.SystemModeCommandFilter(): b.onMessage,
	}
	for filter, handler := range handlers {
		if t := client.Subscribe(filter, 1, handler); t.Wait() && t.Error() != nil {
			log.Error().Err(t.Error()).Str("topic", filter).Msg("MQTT subscribe failed")
			continue
		}
		log.Info().Str("topic", filter).Msg("Subscribed to MQTT commands")
	}
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// paho delivers messages on its own goroutine; writes must not block it.
	topic, payload := msg.Topic(), append([]byte(nil), msg.Payload()...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := b.HandleCommand(ctx, topic, payload); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("MQTT command failed")
		}
	}()
}

// HandleCommand applies one command message. Zone commands carry a JSON object of
// fields; an "hvac_mode" field is translated into on/mode. System mode commands
// carry the bare mode name.
func (b *Bridge) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	if sid, zid, ok := b.topics.ParseZoneCommand(topic); ok {
		fields, err := zoneFields(payload)
		if err != nil {
			return err
		}
		_, err = b.cmd.SetZoneParams(ctx, sid, zid, fields)
		return err
	}

	if sid, ok := b.topics.ParseSystemModeCommand(topic); ok {
		name := strings.Trim(strings.TrimSpace(string(payload)), `"`)
		mode, ok := modes.Parse(strings.ToLower(name))
		if !ok {
			return fmt.Errorf("%w: unknown mode %q", ErrBadCommand, name)
		}
		return b.cmd.SetSystemMode(ctx, sid, mode)
	}

	return fmt.Errorf("%w: unexpected topic %s", ErrBadCommand, topic)
}

func zoneFields(payload []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCommand, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrBadCommand)
	}

	raw, ok := fields["hvac_mode"]
	if !ok {
		return fields, nil
	}
	delete(fields, "hvac_mode")
	name, _ := raw.(string)
	mode, ok := modes.Parse(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %v", ErrBadCommand, raw)
	}
	modeFields, _ := modes.Fields(mode)
	for k, v := range modeFields {
		fields[k] = v
	}
	return fields, nil
}

// PublishSnapshot publishes the state topics whose payload changed since the
// last call. It is shaped to be passed to the coordinator's Subscribe.
func (b *Bridge) PublishSnapshot(snap *model.Snapshot) {
	for k, z := range snap.Zones {
		b.publish(b.topics.ZoneState(k.SystemID, k.ZoneID), z)
	}
	for sid, s := range snap.Systems {
		b.publish(b.topics.SystemState(sid), s)
	}
	for k, s := range snap.IAQs {
		b.publish(b.topics.IAQState(k.SystemID, k.IAQID), s)
	}
}

func (b *Bridge) publish(topic string, p model.Payload) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal MQTT state")
		return
	}

	b.mu.Lock()
	unchanged := b.last[topic] == string(data)
	b.mu.Unlock()
	if unchanged {
		return
	}

	// Subscribers run on the poll goroutine, so do not wait on the broker.
	b.client.Publish(topic, 0, true, data)

	b.mu.Lock()
	b.last[topic] = string(data)
	b.mu.Unlock()
}

// Close marks the bridge offline and disconnects.
func (b *Bridge) Close() {
	if t := b.client.Publish(b.topics.Status(), 1, true, offline); !t.WaitTimeout(2 * time.Second) {
		log.Warn().Msg("Timed out publishing MQTT offline status")
	}
	b.client.Disconnect(250)
	log.Info().Msg("MQTT bridge stopped")
}
