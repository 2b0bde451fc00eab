package alerting

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/weatherhub/weatherhub/internal/database"
	"github.com/weatherhub/weatherhub/internal/protocol"
)

// equalityTolerance absorbs floating-point and unit-conversion noise when
// evaluating the = operator. Exact equality is never required.
const equalityTolerance = 0.1

// RuleStore is the alert rule persistence contract consumed by the evaluator
type RuleStore interface {
	GetActiveAlertRules(ctx context.Context, locationID int64) ([]*database.AlertRule, error)
	InsertAlertActivation(ctx context.Context, a *database.AlertActivation) error
}

// Publisher sends activation events downstream (best effort)
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Evaluator decides rule activations against the freshest observation and
// appends activation history. A nil publisher disables event publication.
type Evaluator struct {
	store     RuleStore
	publisher Publisher
}

// NewEvaluator creates a new alert evaluator
func NewEvaluator(store RuleStore, publisher Publisher) *Evaluator {
	return &Evaluator{store: store, publisher: publisher}
}

// EvaluateAll evaluates every active, unpaused rule for the location against
// the observation. One rule's failure never aborts its siblings. Returns the
// number of activations recorded.
func (e *Evaluator) EvaluateAll(ctx context.Context, loc *database.Location, obs *database.Observation) (int, error) {
	rules, err := e.store.GetActiveAlertRules(ctx, loc.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to get alert rules: %w", err)
	}

	activations := 0
	for _, rule := range rules {
		activation, err := e.Evaluate(ctx, rule, obs)
		if err != nil {
			log.Printf("Failed to evaluate rule %d for location %d: %v", rule.ID, loc.ID, err)
			continue
		}
		if activation != nil {
			activations++
			e.publishActivation(ctx, loc, rule, activation)
		}
	}

	return activations, nil
}

// Evaluate checks one rule against one observation. A met condition appends
// exactly one activation row; every evaluation that meets the condition
// produces a new row, with no suppression window and no de-duplication.
// Unrecognized metrics or operators and absent fields yield no activation.
func (e *Evaluator) Evaluate(ctx context.Context, rule *database.AlertRule, obs *database.Observation) (*database.AlertActivation, error) {
	observed := observedValue(rule, obs)
	if observed == nil {
		return nil, nil
	}

	if !conditionMet(*observed, rule.Operator, rule.Threshold) {
		return nil, nil
	}

	activation := &database.AlertActivation{
		RuleID:        rule.ID,
		UserID:        rule.UserID,
		LocationID:    rule.LocationID,
		Ts:            obs.Ts,
		Metric:        rule.Metric,
		Operator:      rule.Operator,
		Threshold:     rule.Threshold,
		ObservedValue: *observed,
	}

	if err := e.store.InsertAlertActivation(ctx, activation); err != nil {
		return nil, fmt.Errorf("failed to insert activation: %w", err)
	}

	log.Printf("Alert activated: rule=%d location=%d metric=%s %s %.2f observed=%.2f",
		rule.ID, rule.LocationID, rule.Metric, rule.Operator, rule.Threshold, *observed)

	return activation, nil
}

// publishActivation emits an activation event for downstream consumers.
// Failures are logged only; the persisted history row is the source of truth.
func (e *Evaluator) publishActivation(ctx context.Context, loc *database.Location, rule *database.AlertRule, a *database.AlertActivation) {
	if e.publisher == nil {
		return
	}

	event := &protocol.ActivationEvent{
		ActivationID:  a.ID,
		RuleID:        a.RuleID,
		UserID:        a.UserID,
		LocationID:    a.LocationID,
		LocationName:  loc.Name,
		Metric:        a.Metric,
		Operator:      a.Operator,
		Threshold:     a.Threshold,
		ObservedValue: a.ObservedValue,
		Ts:            a.Ts,
	}
	if rule.Unit != nil {
		event.Unit = *rule.Unit
	}

	data, err := protocol.EncodeActivationEvent(event)
	if err != nil {
		log.Printf("Failed to encode activation event for rule %d: %v", rule.ID, err)
		return
	}

	key := fmt.Sprintf("%d", a.LocationID)
	if err := e.publisher.Publish(ctx, key, data); err != nil {
		log.Printf("Failed to publish activation event for rule %d: %v", rule.ID, err)
	}
}

// observedValue resolves the observation field a rule compares against.
// Temperature is converted to the rule's unit; other metrics are read as
// stored. Nil means the field is absent or the metric is unrecognized, and
// evaluation yields no activation.
func observedValue(rule *database.AlertRule, obs *database.Observation) *float64 {
	switch rule.Metric {
	case database.MetricTemperature:
		if obs.TempC == nil {
			return nil
		}
		unit := database.UnitCelsius
		if rule.Unit != nil {
			unit = *rule.Unit
		}
		v := ConvertTemperature(*obs.TempC, unit)
		return &v

	case database.MetricHumidity:
		return obs.Humidity

	case database.MetricWind:
		return obs.WindSpeed // m/s as stored

	case database.MetricPressure:
		return obs.Pressure

	case database.MetricClouds:
		return obs.Clouds

	case database.MetricVisibility:
		return obs.Visibility

	default:
		log.Printf("Unrecognized metric %q in rule %d", rule.Metric, rule.ID)
		return nil
	}
}

// conditionMet applies the rule's comparison operator. Equality holds within
// an absolute tolerance; the other operators are exact.
func conditionMet(observed float64, operator string, threshold float64) bool {
	switch operator {
	case database.OpGreaterThan:
		return observed > threshold
	case database.OpLessThan:
		return observed < threshold
	case database.OpEqual:
		return math.Abs(observed-threshold) < equalityTolerance
	case database.OpGreaterEqual:
		return observed >= threshold
	case database.OpLessEqual:
		return observed <= threshold
	default:
		log.Printf("Unrecognized operator %q", operator)
		return false
	}
}
