package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================================
// PROMETHEUS METRICS
// ============================================================================

var (
	metricHubClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "superrouter_hub_clients",
		Help: "Connected dashboard clients per hub.",
	}, []string{"hub"})

	metricHubBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "superrouter_hub_broadcasts_total",
		Help: "Frames fanned out to dashboard clients.",
	}, []string{"hub"})

	metricAgentConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "superrouter_agent_connected",
		Help: "1 while the agent feed connection is up.",
	})

	metricAgentReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "superrouter_agent_reconnects_total",
		Help: "Reconnect attempts consumed against the agent feed.",
	})

	metricAgentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "superrouter_agent_events_total",
		Help: "Agent feed events by type.",
	}, []string{"type"})

	metricGateVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "superrouter_gate_verifications_total",
		Help: "Gate verifications by outcome.",
	}, []string{"outcome"})

	metricPriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "superrouter_price_lookups_total",
		Help: "Quote lookups by serving source.",
	}, []string{"source"})
)
