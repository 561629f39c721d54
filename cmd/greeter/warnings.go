package main

import (
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/config"
)

// logConfigWarnings logs operational risks of the effective configuration.
func logConfigWarnings(cfg config.Config, log *zap.Logger) {
	if !cfg.ReconcileEnabled {
		log.Warn("RECONCILE_ENABLED=false: deliveries whose queue message is lost stay on_going")
	}
	if !cfg.MetricsEnabled {
		log.Warn("METRICS_ENABLED=false: no visibility into runs, retries or dead-lettered messages")
	}
	if !cfg.LeaderElectionEnabled {
		log.Info("LEADER_ELECTION_ENABLED=false: every replica fires triggers; run a single replica")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Info("CIRCUIT_BREAKER_THRESHOLD=0: email sends continue while the service is failing")
	}
	if cfg.RabbitMQPrefetch == 1 {
		log.Info("RABBITMQ_PREFETCH=1: deliveries are handled one at a time")
	}
}
