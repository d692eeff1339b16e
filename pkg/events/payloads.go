package events

import "time"

// Failure describes a caught handler or middleware error. It rides on the
// "error" event so observers can react without the failing emit blowing up.
type Failure struct {
	Stage          string `json:"stage"`
	Event          string `json:"event"`
	Source         string `json:"source,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Error          string `json:"error"`
}

// StateChange is emitted on every container status transition. Stats is a
// snapshot taken at transition time, so the latest StateChange payload always
// mirrors the container's current accumulator.
type StateChange struct {
	ContainerID string         `json:"container_id"`
	Name        string         `json:"name,omitempty"`
	From        string         `json:"from"`
	To          string         `json:"to"`
	Stats       map[string]any `json:"stats"`
	At          time.Time      `json:"at"`
}

// Completion carries a stopped container's execution result.
type Completion struct {
	ContainerID string         `json:"container_id"`
	Name        string         `json:"name,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Stats       map[string]any `json:"stats"`
}

// TaskReady announces a dequeued container task to external executors.
// TaskID is the namespaced "{instance}_{task}" key; completion reports must
// echo it back verbatim.
type TaskReady struct {
	InstanceID  string         `json:"instance_id"`
	TaskID      string         `json:"task_id"`
	Target      string         `json:"target"`
	Action      string         `json:"action,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	RetriesLeft int            `json:"retries_left"`
}

// TaskResult reports a finished task, keyed by the namespaced task id.
type TaskResult struct {
	TaskID string         `json:"task_id"`
	Result map[string]any `json:"result,omitempty"`
}

// TaskFailure reports a failed task, keyed by the namespaced task id.
type TaskFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// RuleFailure is published under workflow:rule:error whenever any part of a
// rule evaluation fails. Evaluation failures never propagate to the
// triggering emit.
type RuleFailure struct {
	RuleID      string `json:"rule_id"`
	Event       string `json:"event"`
	Stage       string `json:"stage"`
	ActionKind  string `json:"action_kind,omitempty"`
	ActionIndex int    `json:"action_index,omitempty"`
	Error       string `json:"error"`
}

// InstanceDone is shared by workflow:started, workflow:completed,
// workflow:failed and workflow:cancelled.
type InstanceDone struct {
	InstanceID     string `json:"instance_id"`
	Name           string `json:"name,omitempty"`
	Status         string `json:"status"`
	TasksTotal     int    `json:"tasks_total"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksFailed    int    `json:"tasks_failed"`
	Reason         string `json:"reason,omitempty"`
}

// ScheduleFired is emitted by the schedule source on every cron tick.
type ScheduleFired struct {
	SourceID   string    `json:"source_id"`
	Expression string    `json:"expression"`
	FiredAt    time.Time `json:"fired_at"`
}

// Navigation is emitted after a page behavior lands on a URL.
type Navigation struct {
	ContainerID string    `json:"container_id"`
	URL         string    `json:"url"`
	At          time.Time `json:"at"`
}

// Pagination is emitted after a paginate behavior advances a page.
type Pagination struct {
	ContainerID string `json:"container_id"`
	URL         string `json:"url,omitempty"`
	PageNumber  int    `json:"page_number"`
}

// LinkBatch is emitted by the link behavior with one page's worth of
// collected hrefs.
type LinkBatch struct {
	ContainerID string   `json:"container_id"`
	URL         string   `json:"url,omitempty"`
	Links       []string `json:"links"`
}

// ScrollProgress is emitted per scroll iteration; Bottom variants reuse it
// under scroll:bottom_reached with the final step count.
type ScrollProgress struct {
	ContainerID string `json:"container_id"`
	Step        int    `json:"step"`
	AtBottom    bool   `json:"at_bottom"`
}
