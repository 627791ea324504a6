package events

import (
	"github.com/cuemby/paddock/pkg/log"
	"github.com/rs/zerolog"
)

// AlertKind classifies alerts raised for terminal conditions
type AlertKind string

const (
	AlertHAError        AlertKind = "ha_error"
	AlertHostDown       AlertKind = "host_down"
	AlertRebalanceError AlertKind = "rebalance_error"
	AlertNoCapacity     AlertKind = "insufficient_capacity"
)

// Alerting delivers operator alerts
type Alerting interface {
	Send(kind AlertKind, scope, message string)
}

// Alerter publishes alerts as broker events and logs them at error level.
// A nil broker only logs.
type Alerter struct {
	broker *Broker
	logger zerolog.Logger
}

// NewAlerter creates an alerter publishing to broker
func NewAlerter(broker *Broker) *Alerter {
	return &Alerter{
		broker: broker,
		logger: log.WithComponent("alerts"),
	}
}

// Send raises an alert. scope names the resource the alert is about.
func (a *Alerter) Send(kind AlertKind, scope, message string) {
	a.logger.Error().
		Str("kind", string(kind)).
		Str("scope", scope).
		Msg(message)

	if a.broker == nil {
		return
	}
	a.broker.Publish(&Event{
		Type:    EventAlert,
		Message: message,
		Metadata: map[string]string{
			"kind":  string(kind),
			"scope": scope,
		},
	})
}
