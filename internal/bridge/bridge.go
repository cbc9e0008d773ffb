// Package bridge exposes gateway entities to Home Assistant over MQTT
// discovery. Each attached gateway gets retained discovery configs, a JSON
// state per entity republished on every snapshot change, an availability
// topic driven by poll cycles, and command topics routed back to the
// entities.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/entity"
	"github.com/CaseyRo/ha-bosch/internal/entry"
	"github.com/CaseyRo/ha-bosch/internal/mqtt"
)

// commandTimeout bounds one command write triggered from MQTT.
const commandTimeout = 30 * time.Second

// commandQueueSize is how many commands per gateway may wait behind a slow
// write before new ones are rejected.
const commandQueueSize = 16

// homeAssistantOnline is the birth payload on <discovery>/status.
const homeAssistantOnline = "online"

// Publisher is the MQTT surface the bridge needs. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Gateway is the per-device runtime the bridge talks to. *gateway.Runtime
// satisfies it.
type Gateway interface {
	DeviceID() string
	Entry() entry.Entry
	Entities() []entity.Entity
	Coordinator() *coordinator.Coordinator
	Handle(ctx context.Context, uniqueID string, cmd entity.Command) error
}

// Bridge publishes gateways to Home Assistant.
type Bridge struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
	logger *slog.Logger

	mu       sync.Mutex
	attached map[string]*binding
}

type binding struct {
	gw      Gateway
	prefix  string
	ctx     context.Context
	stop    context.CancelFunc
	cancels []func()

	// Commands are written by one worker per gateway, in arrival order,
	// off the MQTT client's delivery goroutine.
	commands chan command
	worker   sync.WaitGroup

	mu        sync.Mutex
	available *bool
}

// New returns a bridge publishing through pub.
func New(pub Publisher, topics mqtt.Topics, qos byte, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		pub:      pub,
		topics:   topics,
		qos:      qos,
		logger:   logger,
		attached: make(map[string]*binding),
	}
}

// Start listens for Home Assistant's birth message so discovery is
// resent after Home Assistant restarts.
func (b *Bridge) Start() error {
	topic := b.topics.Discovery + "/status"

	return b.pub.Subscribe(topic, b.qos, func(_ string, payload []byte) error {
		if strings.TrimSpace(string(payload)) == homeAssistantOnline {
			b.Republish()
		}

		return nil
	})
}

// Attach announces gw, subscribes its command topics and follows its
// coordinator until Detach. ctx bounds the commands it dispatches.
func (b *Bridge) Attach(ctx context.Context, gw Gateway) error {
	device := gw.DeviceID()

	b.mu.Lock()
	if _, ok := b.attached[device]; ok {
		b.mu.Unlock()
		return fmt.Errorf("bridge: device %s already attached", device)
	}

	bctx, stop := context.WithCancel(ctx)
	bd := &binding{
		gw:       gw,
		prefix:   gw.Entry().ID + "_pointtapi_",
		ctx:      bctx,
		stop:     stop,
		commands: make(chan command, commandQueueSize),
	}
	b.attached[device] = bd
	b.mu.Unlock()

	if err := b.announce(bd); err != nil {
		b.drop(device)
		stop()

		return err
	}

	bd.worker.Add(1)
	go b.runCommands(bd)

	for _, filter := range b.topics.CommandFilters(device) {
		if err := b.pub.Subscribe(filter, b.qos, b.commandHandler(bd)); err != nil {
			b.drop(device)
			stop()
			bd.worker.Wait()

			return fmt.Errorf("bridge: subscribing commands for %s: %w", device, err)
		}
	}

	coord := gw.Coordinator()
	bd.cancels = append(bd.cancels,
		coord.Subscribe(func(snap *coordinator.Snapshot) { b.publishStates(bd, snap) }),
		coord.OnCycle(func(res coordinator.CycleResult) { b.publishAvailability(bd, res.Err == nil) }),
	)

	if snap := coord.Snapshot(); snap != nil {
		b.publishStates(bd, snap)
	}

	b.publishAvailability(bd, coord.Available())

	b.logger.Info("bridge attached",
		slog.String("device", device),
		slog.Int("entities", len(gw.Entities())),
	)

	return nil
}

// Detach stops following device and marks it offline.
func (b *Bridge) Detach(device string) {
	bd := b.drop(device)
	if bd == nil {
		return
	}

	for _, cancel := range bd.cancels {
		cancel()
	}

	for _, filter := range b.topics.CommandFilters(device) {
		if err := b.pub.Unsubscribe(filter); err != nil {
			b.logger.Debug("bridge unsubscribe failed", slog.String("topic", filter), slog.String("error", err.Error()))
		}
	}

	bd.stop()
	bd.worker.Wait()

	b.publishAvailability(bd, false)
}

// Republish resends discovery, states and availability of every attached
// gateway. Used after Home Assistant or the broker restarts.
func (b *Bridge) Republish() {
	b.mu.Lock()
	bindings := slices.Collect(maps.Values(b.attached))
	b.mu.Unlock()

	for _, bd := range bindings {
		if err := b.announce(bd); err != nil {
			b.logger.Warn("bridge republish failed",
				slog.String("device", bd.gw.DeviceID()),
				slog.String("error", err.Error()),
			)

			continue
		}

		coord := bd.gw.Coordinator()
		if snap := coord.Snapshot(); snap != nil {
			b.publishStates(bd, snap)
		}

		bd.mu.Lock()
		bd.available = nil
		bd.mu.Unlock()

		b.publishAvailability(bd, coord.Available())
	}
}

// Attached lists attached device ids, sorted.
func (b *Bridge) Attached() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Sorted(maps.Keys(b.attached))
}

func (b *Bridge) drop(device string) *binding {
	b.mu.Lock()
	defer b.mu.Unlock()

	bd := b.attached[device]
	delete(b.attached, device)

	return bd
}

// announce publishes the retained discovery config of every entity.
func (b *Bridge) announce(bd *binding) error {
	device := bd.gw.DeviceID()

	for _, e := range bd.gw.Entities() {
		object := bd.objectID(e)

		body, err := json.Marshal(discoveryConfig(b.topics, device, object, e))
		if err != nil {
			return fmt.Errorf("bridge: encoding discovery for %s: %w", e.UniqueID(), err)
		}

		topic := b.topics.Config(string(e.Platform()), device, object)
		if err := b.pub.Publish(topic, body, b.qos, true); err != nil {
			return fmt.Errorf("bridge: publishing discovery for %s: %w", e.UniqueID(), err)
		}
	}

	return nil
}

func (b *Bridge) publishStates(bd *binding, snap *coordinator.Snapshot) {
	device := bd.gw.DeviceID()

	for _, e := range bd.gw.Entities() {
		body, err := json.Marshal(statePayload(e.Read(snap)))
		if err != nil {
			b.logger.Warn("bridge state encoding failed",
				slog.String("entity", e.UniqueID()),
				slog.String("error", err.Error()),
			)

			continue
		}

		topic := b.topics.State(device, bd.objectID(e))
		if err := b.pub.Publish(topic, body, b.qos, true); err != nil {
			b.logger.Warn("bridge state publish failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)

			return
		}
	}
}

// publishAvailability publishes online/offline when it differs from what
// was last published.
func (b *Bridge) publishAvailability(bd *binding, online bool) {
	bd.mu.Lock()
	if bd.available != nil && *bd.available == online {
		bd.mu.Unlock()
		return
	}

	bd.available = &online
	bd.mu.Unlock()

	payload := mqtt.StatusOffline
	if online {
		payload = mqtt.StatusOnline
	}

	topic := b.topics.Availability(bd.gw.DeviceID())
	if err := b.pub.Publish(topic, []byte(payload), b.qos, true); err != nil {
		b.logger.Warn("bridge availability publish failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}

type command struct {
	uniqueID string
	cmd      entity.Command
}

// commandHandler parses a command topic and queues the write. It never
// waits for the gateway.
func (b *Bridge) commandHandler(bd *binding) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		device, object, field, ok := b.topics.ParseCommand(topic)
		if !ok || device != bd.gw.DeviceID() {
			return fmt.Errorf("bridge: unexpected command topic %q", topic)
		}

		c := command{
			uniqueID: bd.prefix + object,
			cmd:      entity.Command{Field: field, Value: string(payload)},
		}

		select {
		case bd.commands <- c:
			return nil
		case <-bd.ctx.Done():
			return fmt.Errorf("bridge: device %s detached", device)
		default:
			return fmt.Errorf("bridge: command queue of %s is full, dropped %q", device, topic)
		}
	}
}

func (b *Bridge) runCommands(bd *binding) {
	defer bd.worker.Done()

	for {
		select {
		case <-bd.ctx.Done():
			return
		case c := <-bd.commands:
			ctx, cancel := context.WithTimeout(bd.ctx, commandTimeout)
			err := bd.gw.Handle(ctx, c.uniqueID, c.cmd)
			cancel()

			if err != nil {
				b.logger.Warn("bridge command failed",
					slog.String("entity", c.uniqueID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// objectID is the unique id without the per-entry prefix, e.g. "zn1" or
// "sensor_system_sensors_temperatures_outdoor_t1".
func (bd *binding) objectID(e entity.Entity) string {
	return strings.TrimPrefix(e.UniqueID(), bd.prefix)
}
