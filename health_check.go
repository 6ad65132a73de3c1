package main

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthReport feeds the dashboard's status row.
type HealthReport struct {
	Status         string `json:"status"`
	Time           string `json:"time"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	AgentFeed      string `json:"agentFeed"`
	AgentAttempts  int    `json:"agentAttempts"`
	AgentLastEvent int64  `json:"agentLastEvent"`
	PublicClients  int    `json:"publicClients"`
	PrivateClients int    `json:"privateClients"`
	SessionStore   string `json:"sessionStore"`
}

// NewHealthHandler returns the /healthz handler. Always 200, the body says
// how healthy "up" actually is.
func NewHealthHandler(startedAt time.Time, agentFeed *AgentFeedService, publicHub, privateHub *Hub, storeKind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := HealthReport{
			Status:        "healthy",
			Time:          time.Now().Format(time.RFC3339),
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
			AgentFeed:     string(agentFeed.Status()),
			AgentAttempts: agentFeed.Attempt(),
			SessionStore:  storeKind,
		}
		report.AgentLastEvent = agentFeed.LastEventAt()
		if publicHub != nil {
			report.PublicClients = publicHub.ClientCount()
		}
		if privateHub != nil {
			report.PrivateClients = privateHub.ClientCount()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(report)
	}
}
