package mqtt

import (
	"strings"

	"github.com/CaseyRo/ha-bosch/internal/config"
)

// Topics builds the bridge's topic names.
//
//	discovery: <discovery>/<component>/<device>/<object>/config
//	state:     <base>/<device>/<object>/state
//	command:   <base>/<device>/<object>[/<field>]/set
//	avail:     <base>/<device>/availability
//	bridge:    <base>/bridge/status
type Topics struct {
	Discovery string
	Base      string
}

// TopicsFor returns the topic builder for cfg.
func TopicsFor(cfg config.MQTTConfig) Topics {
	return Topics{Discovery: cfg.DiscoveryPrefix, Base: cfg.BaseTopic}
}

// BridgeStatus is where the LWT and the online/offline status live.
func (t Topics) BridgeStatus() string {
	return t.Base + "/bridge/status"
}

// Availability is the per-device availability topic.
func (t Topics) Availability(device string) string {
	return t.Base + "/" + device + "/availability"
}

// Config is the Home Assistant discovery config topic of one entity.
func (t Topics) Config(component, device, object string) string {
	return t.Discovery + "/" + component + "/" + device + "/" + object + "/config"
}

// State is the state topic of one entity.
func (t Topics) State(device, object string) string {
	return t.Base + "/" + device + "/" + object + "/state"
}

// Command is the command topic of one entity field. An empty field is the
// entity's primary value.
func (t Topics) Command(device, object, field string) string {
	if field == "" {
		return t.Base + "/" + device + "/" + object + "/set"
	}

	return t.Base + "/" + device + "/" + object + "/" + field + "/set"
}

// CommandFilters are the subscriptions that cover every command topic of
// device.
func (t Topics) CommandFilters(device string) []string {
	return []string{
		t.Base + "/" + device + "/+/set",
		t.Base + "/" + device + "/+/+/set",
	}
}

// ParseCommand splits a command topic into device, object and field.
func (t Topics) ParseCommand(topic string) (device, object, field string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Base+"/")
	if !found {
		return "", "", "", false
	}

	rest, found = strings.CutSuffix(rest, "/set")
	if !found {
		return "", "", "", false
	}

	parts := strings.Split(rest, "/")
	for _, p := range parts {
		if p == "" {
			return "", "", "", false
		}
	}

	switch len(parts) {
	case 2:
		return parts[0], parts[1], "", true
	case 3:
		return parts[0], parts[1], parts[2], true
	default:
		return "", "", "", false
	}
}

// validTopic rejects empty topics and wildcards in publish topics.
func validTopic(topic string, allowWildcards bool) bool {
	if topic == "" {
		return false
	}

	if !allowWildcards && strings.ContainsAny(topic, "+#") {
		return false
	}

	return true
}
