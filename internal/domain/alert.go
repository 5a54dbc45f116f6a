package domain

import "time"

// AlertType classifies an alert event.
type AlertType string

const (
	AlertWarning    AlertType = "WARNING"
	AlertCritical   AlertType = "CRITICAL"
	AlertPrediction AlertType = "PREDICTION"
	AlertInfo       AlertType = "INFO"
)

// String returns the string representation of AlertType.
func (t AlertType) String() string {
	return string(t)
}

// Severity is the alert severity tier.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one notification event. Immutable after creation; appended to a
// bounded history with oldest-first eviction.
type Alert struct {
	ID           string                 `json:"id"`
	Type         AlertType              `json:"type"`
	Severity     Severity               `json:"severity"`
	PositionID   string                 `json:"position_id"`
	Protocol     Protocol               `json:"protocol"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	HealthFactor float64                `json:"health_factor,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
