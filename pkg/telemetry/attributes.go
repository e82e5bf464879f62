package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Standard attribute keys used across dispatch spans.
const (
	// Order / driver
	AttrOrderID    = "order.id"
	AttrDriverID   = "driver.id"
	AttrPickupID   = "pickup.id"
	AttrRemainingMin = "order.remaining_min"
	AttrUrgency    = "order.urgency"

	// Assignment
	AttrAssignmentType = "assignment.type"
	AttrScore          = "assignment.score"
	AttrAlternatives   = "assignment.alternatives"

	// Optimizer
	AttrVehiclesUsed   = "optimize.vehicles_used"
	AttrDeliveryCount  = "optimize.delivery_count"
	AttrDistanceKm     = "optimize.distance_km"
	AttrDegraded       = "optimize.degraded"

	// Escalation
	AttrEscalationType = "escalation.type"
	AttrSeverity       = "escalation.severity"

	// Store
	AttrRepository = "store.repository"
	AttrStale      = "store.stale"

	// Orchestrator
	AttrEngine = "cycle.engine"
)

// OrderAttributes returns span attributes describing an order.
func OrderAttributes(orderID string, remainingMin float64, urgency string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrOrderID, orderID),
		attribute.Float64(AttrRemainingMin, remainingMin),
		attribute.String(AttrUrgency, urgency),
	}
}

// AssignmentAttributes returns span attributes describing an assignment decision.
func AssignmentAttributes(driverID, assignmentType string, score float64, alternatives int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrDriverID, driverID),
		attribute.String(AttrAssignmentType, assignmentType),
		attribute.Float64(AttrScore, score),
		attribute.Int(AttrAlternatives, alternatives),
	}
}

// OptimizeAttributes returns span attributes describing an optimization run.
func OptimizeAttributes(vehiclesUsed, deliveryCount int, distanceKm float64, degraded bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrVehiclesUsed, vehiclesUsed),
		attribute.Int(AttrDeliveryCount, deliveryCount),
		attribute.Float64(AttrDistanceKm, distanceKm),
		attribute.Bool(AttrDegraded, degraded),
	}
}

// EscalationAttributes returns span attributes describing an escalation detection.
func EscalationAttributes(escalationType, severity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrEscalationType, escalationType),
		attribute.String(AttrSeverity, severity),
	}
}

// StoreAttributes returns span attributes describing a persistence-gateway call.
func StoreAttributes(repository string, stale bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRepository, repository),
		attribute.Bool(AttrStale, stale),
	}
}

// EngineAttributes returns span attributes describing one orchestrator tick.
func EngineAttributes(engine string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrEngine, engine),
	}
}
