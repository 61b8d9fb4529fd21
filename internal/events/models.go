package events

// Tag is a key/value pair attached to a rule.
type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// RuleInput is the full-replace attribute set sent to PutRule.
// Absent fields are omitted from the wire form - omission, not nullity,
// signals "no opinion".
type RuleInput struct {
	Name               string `json:"Name"`
	ScheduleExpression string `json:"ScheduleExpression,omitempty"`
	EventPattern       string `json:"EventPattern,omitempty"`
	State              string `json:"State,omitempty"`
	Description        string `json:"Description,omitempty"`
	RoleArn            string `json:"RoleArn,omitempty"`
	EventBusName       string `json:"EventBusName,omitempty"`
	Tags               []Tag  `json:"Tags,omitempty"`
}

// RuleSnapshot is the observed core state of a rule.
type RuleSnapshot struct {
	Name               string `json:"Name"`
	Arn                string `json:"Arn"`
	ScheduleExpression string `json:"ScheduleExpression,omitempty"`
	EventPattern       string `json:"EventPattern,omitempty"`
	State              string `json:"State,omitempty"`
	Description        string `json:"Description,omitempty"`
	RoleArn            string `json:"RoleArn,omitempty"`
	EventBusName       string `json:"EventBusName,omitempty"`
	ManagedBy          string `json:"ManagedBy,omitempty"`
}

// Core projects the snapshot onto the comparable core attribute subset,
// omitting absent fields.
func (s *RuleSnapshot) Core() map[string]string {
	return coreAttributes(s.Name, s.ScheduleExpression, s.EventPattern, s.State, s.Description, s.RoleArn)
}

// Core projects the input onto the comparable core attribute subset,
// omitting absent fields.
func (in *RuleInput) Core() map[string]string {
	return coreAttributes(in.Name, in.ScheduleExpression, in.EventPattern, in.State, in.Description, in.RoleArn)
}

func coreAttributes(name, schedule, pattern, state, description, roleArn string) map[string]string {
	attrs := make(map[string]string)
	put := func(k, v string) {
		if v != "" {
			attrs[k] = v
		}
	}
	put("Name", name)
	put("ScheduleExpression", schedule)
	put("EventPattern", pattern)
	put("State", state)
	put("Description", description)
	put("RoleArn", roleArn)
	return attrs
}

// HTTPParameters overrides HTTP path/header/query parameters for API targets.
type HTTPParameters struct {
	PathParameterValues   []string          `json:"PathParameterValues,omitempty"`
	HeaderParameters      map[string]string `json:"HeaderParameters,omitempty"`
	QueryStringParameters map[string]string `json:"QueryStringParameters,omitempty"`
}

// DeadLetterConfig points undeliverable events at a queue.
type DeadLetterConfig struct {
	Arn string `json:"Arn"`
}

// RetryPolicy overrides delivery retry behavior for a target.
type RetryPolicy struct {
	MaximumRetryAttempts     int `json:"MaximumRetryAttempts,omitempty"`
	MaximumEventAgeInSeconds int `json:"MaximumEventAgeInSeconds,omitempty"`
}

// Target is the wire form of a rule target.
type Target struct {
	ID               string            `json:"Id"`
	Arn              string            `json:"Arn"`
	RoleArn          string            `json:"RoleArn,omitempty"`
	Input            string            `json:"Input,omitempty"`
	InputPath        string            `json:"InputPath,omitempty"`
	HTTPParameters   *HTTPParameters   `json:"HttpParameters,omitempty"`
	DeadLetterConfig *DeadLetterConfig `json:"DeadLetterConfig,omitempty"`
	RetryPolicy      *RetryPolicy      `json:"RetryPolicy,omitempty"`
}

// BatchEntryError is a per-item failure in a bulk target operation.
type BatchEntryError struct {
	TargetID     string `json:"TargetId"`
	ErrorCode    string `json:"ErrorCode"`
	ErrorMessage string `json:"ErrorMessage"`
}

// BatchResult is the per-item outcome of a bulk target operation.
type BatchResult struct {
	FailedEntryCount int               `json:"FailedEntryCount"`
	FailedEntries    []BatchEntryError `json:"FailedEntries,omitempty"`
}
