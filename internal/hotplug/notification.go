package hotplug

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// Notification is the payload of an attach or detach message.
type Notification struct {
	Handle   string  `json:"handle"`
	UINumber *uint32 `json:"ui_number,omitempty"`
}

func decodeNotification(payload []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	if n.Handle == "" {
		return Notification{}, fmt.Errorf("%w: missing handle", ErrInvalidNotification)
	}
	return n, nil
}

// instance builds the filter view of an attach notification.
func (n Notification) instance() filter.Instance {
	return filter.Instance{
		Handle:     filter.Handle(n.Handle),
		Properties: uiNumber{value: n.UINumber},
	}
}

// uiNumber serves the serial number property from the notification.
type uiNumber struct {
	value *uint32
}

func (u uiNumber) SerialNumber(context.Context) (uint32, error) {
	if u.value == nil {
		return 0, ErrNoSerialNumber
	}
	return *u.value, nil
}
