package maintenance

import (
	"encoding/json"
	"time"
)

// DeviceNotObserved is published for every device the liveness sweep demotes
// to offline, so that alarm services downstream can react.
type DeviceNotObserved struct {
	DeviceID   string    `json:"deviceID"`
	ObservedAt time.Time `json:"observedAt"`
	Timestamp  time.Time `json:"timestamp"`
}

func (d *DeviceNotObserved) ContentType() string {
	return "application/json"
}

func (d *DeviceNotObserved) TopicName() string {
	return "watchdog.deviceNotObserved"
}

func (d *DeviceNotObserved) Body() []byte {
	b, _ := json.Marshal(d)
	return b
}
