package store

import "time"

type ExperimentStatus string

const (
	StatusActive    ExperimentStatus = "active"
	StatusCompleted ExperimentStatus = "completed"
)

// Event types that feed the counters. Any other name is stored only.
const (
	EventView       = "view"
	EventConversion = "conversion"
)

// Attribution methods, in precedence order.
const (
	MethodClickTracking    = "click_tracking"
	MethodRecentExperiment = "recent_experiment"
	MethodNone             = "none"
)

type Variant struct {
	Name    string  `json:"name"`
	Control bool    `json:"control,omitempty"`
	Weight  float64 `json:"weight"`
}

type Experiment struct {
	ID            int64
	Name          string
	Status        ExperimentStatus
	Variants      []Variant // Decoded from JSON, in declaration order
	WinnerVariant *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ResetAt       *time.Time
}

// Control returns the control variant, or the first variant if none is flagged.
func (e *Experiment) Control() Variant {
	for _, v := range e.Variants {
		if v.Control {
			return v
		}
	}
	if len(e.Variants) == 0 {
		return Variant{}
	}
	return e.Variants[0]
}

// HasVariant reports whether name is one of the experiment's variants.
func (e *Experiment) HasVariant(name string) bool {
	for _, v := range e.Variants {
		if v.Name == name {
			return true
		}
	}
	return false
}

type Assignment struct {
	Experiment string
	VisitorID  string
	Variant    string
	AssignedAt time.Time
}

type Event struct {
	ID         int64          `json:"id"`
	Experiment string         `json:"experiment"`
	Variant    string         `json:"variant"`
	EventType  string         `json:"event_type"`
	VisitorID  string         `json:"visitor_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Archived   bool           `json:"archived"`
	CreatedAt  time.Time      `json:"created_at"`
}

type VariantCounter struct {
	Variant     string
	Views       int
	Conversions int
}

type ClickIntent struct {
	ID          int64
	VisitorID   string
	Phone       string
	Experiment  string
	Variant     string
	Page        string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	CreatedAt   time.Time
}

// CallUpdate carries the fields a telephony webhook may set. Zero values
// mean "not supplied" and leave the stored value untouched.
type CallUpdate struct {
	CallSid      string
	CallerPhone  string
	CalledNumber string
	CallStatus   string
	Duration     *int
	LeadID       string
	RecordingURL string
	ReceivedAt   time.Time
}

type CallRecord struct {
	ID                int64
	CallSid           string
	CallerPhone       string
	CalledNumber      string
	CallStatus        string
	Duration          int
	ABExperiment      *string
	ABVariant         *string
	AttributionMethod *string
	LeadID            *string
	RecordingURL      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Attributed reports whether the attribution fields have been written.
func (c *CallRecord) Attributed() bool {
	return c.AttributionMethod != nil && *c.AttributionMethod != ""
}
