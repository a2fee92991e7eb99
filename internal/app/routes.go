package app

import (
	"github.com/sbilibin2017/gw-payflow/internal/bus"
	"github.com/sbilibin2017/gw-payflow/internal/middlewares"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/sbilibin2017/gw-payflow/internal/services"
)

// Consumer group ids. They also name the consumer in event logs.
const (
	LedgerGroup       = "ledger-service-group"
	OrchestratorGroup = "transaction-service-group"
)

// LedgerRoutes returns the ledger's event handlers keyed by topic.
func LedgerRoutes(svc *services.LedgerService) map[string]bus.HandlerFunc {
	return map[string]bus.HandlerFunc{
		models.TopicTransactionInitiated: decorate(LedgerGroup, bus.Typed(svc.HandleTransactionInitiated)),
	}
}

// OrchestratorRoutes returns the orchestrator's event handlers keyed by topic.
func OrchestratorRoutes(svc *services.TransferService) map[string]bus.HandlerFunc {
	return map[string]bus.HandlerFunc{
		models.TopicDebitCompleted:    decorate(OrchestratorGroup, bus.Typed(svc.HandleDebitCompleted)),
		models.TopicCreditCompleted:   decorate(OrchestratorGroup, bus.Typed(svc.HandleCreditCompleted)),
		models.TopicTransactionFailed: decorate(OrchestratorGroup, bus.Typed(svc.HandleTransactionFailed)),
	}
}

// Subscribe registers every route on the in-memory bus.
func Subscribe(b *bus.MemoryBus, routes map[string]bus.HandlerFunc) {
	for topic, h := range routes {
		b.Subscribe(topic, h)
	}
}

// Merge combines route sets. Later sets win on topic collisions.
func Merge(sets ...map[string]bus.HandlerFunc) map[string]bus.HandlerFunc {
	out := make(map[string]bus.HandlerFunc)
	for _, set := range sets {
		for topic, h := range set {
			out[topic] = h
		}
	}
	return out
}

func decorate(consumer string, h bus.HandlerFunc) bus.HandlerFunc {
	return middlewares.EventLogging(consumer, middlewares.EventRecoverer(h))
}
