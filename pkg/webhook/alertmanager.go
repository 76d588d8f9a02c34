package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/common/model"
)

const (
	// ZoneLabel is the alert label carrying the availability zone a
	// scale signal originated from.
	ZoneLabel = "availability_zone"

	// MaxNotificationBodySize bounds webhook payload reads (1MB)
	MaxNotificationBodySize = 1 * 1024 * 1024
)

// Notification is the Alertmanager webhook payload.
type Notification struct {
	Receiver          string         `json:"receiver"`
	Status            string         `json:"status"`
	Alerts            []Alert        `json:"alerts"`
	GroupLabels       model.LabelSet `json:"groupLabels"`
	CommonLabels      model.LabelSet `json:"commonLabels"`
	CommonAnnotations model.LabelSet `json:"commonAnnotations"`
	ExternalURL       string         `json:"externalURL"`
	Version           string         `json:"version"`
	GroupKey          string         `json:"groupKey"`
}

// Alert is one alert inside a notification.
type Alert struct {
	Status       string         `json:"status"`
	Labels       model.LabelSet `json:"labels"`
	Annotations  model.LabelSet `json:"annotations"`
	StartsAt     time.Time      `json:"startsAt,omitempty"`
	EndsAt       time.Time      `json:"endsAt,omitempty"`
	GeneratorURL string         `json:"generatorURL,omitempty"`
}

// ParseNotification decodes an Alertmanager payload from r, bounded
// by MaxNotificationBodySize. An empty body yields an empty
// notification so hand-thrown signals without a payload still work.
func ParseNotification(r io.Reader) (*Notification, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxNotificationBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read notification body: %w", err)
	}
	if len(body) == 0 {
		return &Notification{}, nil
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	return &n, nil
}

// Zone extracts the availability zone the signal targets: the common
// labels first, then the first alert that carries the label. Empty
// means the signal is unzoned.
func (n *Notification) Zone() string {
	if v, ok := n.CommonLabels[ZoneLabel]; ok {
		return string(v)
	}
	for _, a := range n.Alerts {
		if v, ok := a.Labels[ZoneLabel]; ok {
			return string(v)
		}
	}
	return ""
}
