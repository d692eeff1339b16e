// Package events defines the event names emitted by the harvestman core and
// the closed set of payload structures they carry. Event names follow the
// domain:verb[:qualifier] convention; anything outside this package is
// treated as an opaque passthrough event.
package events

// Topic is the watermill topic the relay mirrors bus traffic onto.
const Topic = "harvestman.events"

// Relay message metadata keys.
const (
	NameMetadataKey   = "event_name"
	SourceMetadataKey = "event_source"
	IDMetadataKey     = "event_id"
)

// Error is the bus-level failure event. Every caught handler or middleware
// failure is republished under this name with a Failure payload.
const Error = "error"

// Container lifecycle events.
const (
	ContainerStateChanged = "container:state:changed"
	ContainerCompleted    = "container:completed"
)

// Workflow engine events.
const (
	WorkflowStarted       = "workflow:started"
	WorkflowCompleted     = "workflow:completed"
	WorkflowFailed        = "workflow:failed"
	WorkflowCancelled     = "workflow:cancelled"
	WorkflowTaskReady     = "workflow:task:ready"
	WorkflowTaskCompleted = "workflow:task:completed"
	WorkflowTaskError     = "workflow:task:error"
	WorkflowRuleError     = "workflow:rule:error"
)

// Source events.
const (
	ScheduleDue = "schedule:due"
)

// Harvest behavior events.
const (
	PageNavigated       = "page:navigated"
	PagePaginated       = "page:paginated"
	LinkCollected       = "link:collected"
	ScrollStep          = "scroll:step"
	ScrollBottomReached = "scroll:bottom_reached"
)

// Failure stages carried by Failure payloads.
const (
	StageMiddleware = "middleware"
	StageHandler    = "handler"
	StageCondition  = "condition"
	StageThen       = "then"
	StageAction     = "action"
)
