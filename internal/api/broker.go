package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// brokerStatus is the response body of GET /mqtt. The password is never
// included.
type brokerStatus struct {
	Configured    bool                 `json:"configured"`
	State         string               `json:"state"`
	Connected     bool                 `json:"connected"`
	URL           string               `json:"url,omitempty"`
	ClientID      string               `json:"client_id,omitempty"`
	Username      string               `json:"username,omitempty"`
	TLS           bool                 `json:"tls"`
	WebSocket     bool                 `json:"websocket"`
	Subscriptions []brokerSubscription `json:"subscriptions"`
}

type brokerSubscription struct {
	Topic string `json:"topic"`
	QoS   int    `json:"qos"`
}

// handleBrokerStatus reports the core MQTT client's endpoint, connection
// state and subscription registry.
func (s *Server) handleBrokerStatus(w http.ResponseWriter, _ *http.Request) {
	status := brokerStatus{
		State:         mqtt.Disconnected.String(),
		Subscriptions: []brokerSubscription{},
	}
	if s.mqtt == nil {
		writeJSON(w, http.StatusOK, status)
		return
	}

	ep := s.mqtt.Endpoint()
	status.Configured = ep.Address != ""
	status.State = s.mqtt.State().String()
	status.Connected = s.mqtt.IsConnected()
	status.ClientID = ep.ClientID
	status.Username = ep.Username
	status.TLS = ep.TLS
	status.WebSocket = ep.WebSocket
	if status.Configured {
		status.URL = ep.URL()
	}
	for _, sub := range s.mqtt.Subscriptions() {
		status.Subscriptions = append(status.Subscriptions, brokerSubscription{
			Topic: sub.Topic,
			QoS:   int(sub.QoS),
		})
	}

	writeJSON(w, http.StatusOK, status)
}
