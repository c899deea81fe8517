package types

import (
	"encoding/json"
	"time"
)

type ReadingCreated struct {
	Reading   Reading   `json:"reading"`
	Tenant    string    `json:"tenant,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *ReadingCreated) ContentType() string {
	return "application/json"
}
func (r *ReadingCreated) TopicName() string {
	return "reading.created"
}
func (r *ReadingCreated) Body() []byte {
	b, _ := json.Marshal(r)
	return b
}

type AlertRaised struct {
	ReadingID string       `json:"readingID"`
	DeviceID  string       `json:"deviceID,omitempty"`
	Alerts    []AlertEvent `json:"alerts"`
	Tenant    string       `json:"tenant,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

func (a *AlertRaised) ContentType() string {
	return "application/json"
}
func (a *AlertRaised) TopicName() string {
	return "alarms.alertRaised"
}
func (a *AlertRaised) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type DeviceCreated struct {
	DeviceID  string    `json:"deviceID"`
	Tenant    string    `json:"tenant,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (d *DeviceCreated) ContentType() string {
	return "application/json"
}
func (d *DeviceCreated) TopicName() string {
	return "device.created"
}
func (d *DeviceCreated) Body() []byte {
	b, _ := json.Marshal(d)
	return b
}

type DeviceStateUpdated struct {
	DeviceID  string    `json:"deviceID"`
	State     string    `json:"state"`
	Tenant    string    `json:"tenant,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (d *DeviceStateUpdated) ContentType() string {
	return "application/json"
}
func (d *DeviceStateUpdated) TopicName() string {
	return "device.stateUpdated"
}
func (d *DeviceStateUpdated) Body() []byte {
	b, _ := json.Marshal(d)
	return b
}
