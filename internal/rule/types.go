// Package rule defines the desired configuration of an event-routing
// rule and its canonical, comparable attribute form.
package rule

// DesiredConfig is the immutable desired state of one rule, produced
// once per reconciliation from the caller's component definition.
type DesiredConfig struct {
	Name               string            `json:"name"`
	ScheduleExpression string            `json:"schedule_expression,omitempty"`
	EventPattern       map[string]any    `json:"event_pattern,omitempty"`
	Description        string            `json:"description,omitempty"`
	RoleArn            string            `json:"role_arn,omitempty"`
	EventBusName       string            `json:"event_bus_name,omitempty"`
	Tags               map[string]string `json:"tags,omitempty"`
	Targets            []TargetSpec      `json:"targets,omitempty"`
}

// TargetSpec describes one delivery target of a rule.
// The identifier must be unique within the rule.
type TargetSpec struct {
	ID                  string            `json:"id"`
	Arn                 string            `json:"arn"`
	RoleArn             string            `json:"role_arn,omitempty"`
	Input               string            `json:"input,omitempty"`
	InputPath           string            `json:"input_path,omitempty"`
	HTTPPathParameters  []string          `json:"http_path_parameter_values,omitempty"`
	HTTPHeaders         map[string]string `json:"http_header_parameters,omitempty"`
	HTTPQueryParameters map[string]string `json:"http_query_string_parameters,omitempty"`
	DeadLetterArn       string            `json:"dead_letter_queue_arn,omitempty"`
	MaxRetryAttempts    *int              `json:"maximum_retry_attempts,omitempty"`
	MaxEventAgeSeconds  *int              `json:"maximum_event_age_in_seconds,omitempty"`
}
