package store

import (
	"context"
	"time"
)

// Store defines the persistence operations for experiments and calls
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, name string, variants []Variant) (*Experiment, error)
	GetOrCreateExperiment(ctx context.Context, name string, variants []Variant) (*Experiment, bool, error)
	GetExperiment(ctx context.Context, name string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	ListActiveExperiments(ctx context.Context) ([]*Experiment, error)
	SetWinner(ctx context.Context, name, variant string) error
	ResetExperiment(ctx context.Context, name string) error

	// Assignment and event operations
	AssignIfAbsent(ctx context.Context, experiment, visitorID, variant string) (*Assignment, bool, error)
	GetAssignment(ctx context.Context, experiment, visitorID string) (*Assignment, error)
	RecordEvent(ctx context.Context, e *Event) (bool, error)
	GetVariantCounters(ctx context.Context, experiment string) ([]VariantCounter, error)
	GetEvents(ctx context.Context, experiment string) ([]*Event, error)

	// Attribution operations
	RecordClickIntent(ctx context.Context, ci *ClickIntent) error
	FindClickIntentsNear(ctx context.Context, phone string, callTime time.Time, window time.Duration) ([]*ClickIntent, error)
	PruneClickIntents(ctx context.Context, before time.Time) (int64, error)
	RecordOrUpdateCall(ctx context.Context, u CallUpdate) (*CallRecord, bool, error)
	SetCallAttribution(ctx context.Context, callSid string, experiment, variant *string, method string) (bool, error)
	GetCall(ctx context.Context, callSid string) (*CallRecord, error)
	ListCalls(ctx context.Context, limit int) ([]*CallRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
