package mqtt

import "fmt"

// DefaultRoot is the topic root used when none is configured.
const DefaultRoot = "sideband"

// Topics builds the daemon's MQTT topics under a configurable root.
//
//	topics := mqtt.Topics{Root: "lab7/sideband"}
//	topics.HotplugAttach() // "lab7/sideband/hotplug/attach"
//
// The zero value uses DefaultRoot.
type Topics struct {
	Root string
}

func (t Topics) root() string {
	if t.Root == "" {
		return DefaultRoot
	}
	return t.Root
}

// HotplugAttach is where the host announces a new instance.
func (t Topics) HotplugAttach() string {
	return t.root() + "/hotplug/attach"
}

// HotplugDetach is where the host announces an instance going away.
func (t Topics) HotplugDetach() string {
	return t.root() + "/hotplug/detach"
}

// AllHotplug matches every hot-plug notification.
func (t Topics) AllHotplug() string {
	return t.root() + "/hotplug/+"
}

// ChannelStatus carries the retained control channel status.
func (t Topics) ChannelStatus() string {
	return t.root() + "/system/channel"
}

// SystemStatus carries the retained online/offline status and the LWT.
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// InstanceEvent carries non-retained lifecycle events of the given kind.
//
// Example: sideband/events/attached
func (t Topics) InstanceEvent(kind string) string {
	return fmt.Sprintf("%s/events/%s", t.root(), kind)
}

// AllEvents matches every lifecycle event.
func (t Topics) AllEvents() string {
	return t.root() + "/events/+"
}

// AllTopics matches everything under the root.
func (t Topics) AllTopics() string {
	return t.root() + "/#"
}
