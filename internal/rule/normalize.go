package rule

import (
	"encoding/json"
	"sort"

	"github.com/evroute/ruled/internal/events"
)

// Normalized is the canonical attribute set of a desired configuration,
// comparable against the remote representation.
type Normalized struct {
	// Input carries the full-replace core attributes plus flattened tags.
	Input events.RuleInput
	// Targets are the desired targets keyed by identifier for diffing.
	Targets map[string]TargetSpec
}

// Tags returns the desired tag mapping.
func (n *Normalized) Tags() map[string]string {
	tags := make(map[string]string, len(n.Input.Tags))
	for _, tag := range n.Input.Tags {
		tags[tag.Key] = tag.Value
	}
	return tags
}

// CoreInput returns the core attribute set without tags, as sent to the
// update operation.
func (n *Normalized) CoreInput() *events.RuleInput {
	core := n.Input
	core.Tags = nil
	return &core
}

// Normalize turns a desired configuration into its canonical attribute
// set. Absent fields are omitted, the structured event pattern is
// serialized to its wire string, and the tag mapping is flattened to an
// ordered key/value list. Pure; malformed input is the caller's problem.
func Normalize(cfg *DesiredConfig) *Normalized {
	input := events.RuleInput{
		Name:               cfg.Name,
		ScheduleExpression: cfg.ScheduleExpression,
		State:              "ENABLED",
		Description:        cfg.Description,
		RoleArn:            cfg.RoleArn,
		EventBusName:       cfg.EventBusName,
	}

	if len(cfg.EventPattern) > 0 {
		// Pattern objects are valid JSON by construction; a marshal
		// failure here is impossible for map[string]any of JSON origin.
		pattern, err := json.Marshal(cfg.EventPattern)
		if err == nil {
			input.EventPattern = string(pattern)
		}
	}

	if len(cfg.Tags) > 0 {
		keys := make([]string, 0, len(cfg.Tags))
		for key := range cfg.Tags {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		input.Tags = make([]events.Tag, 0, len(keys))
		for _, key := range keys {
			input.Tags = append(input.Tags, events.Tag{Key: key, Value: cfg.Tags[key]})
		}
	}

	targets := make(map[string]TargetSpec, len(cfg.Targets))
	for _, target := range cfg.Targets {
		targets[target.ID] = target
	}

	return &Normalized{Input: input, Targets: targets}
}

// Wire builds the wire form of a target, mapping each optional field
// independently and including nested structures only when at least one
// of their sub-fields is present.
func (t TargetSpec) Wire() events.Target {
	target := events.Target{
		ID:        t.ID,
		Arn:       t.Arn,
		RoleArn:   t.RoleArn,
		Input:     t.Input,
		InputPath: t.InputPath,
	}

	if len(t.HTTPPathParameters) > 0 || len(t.HTTPHeaders) > 0 || len(t.HTTPQueryParameters) > 0 {
		target.HTTPParameters = &events.HTTPParameters{
			PathParameterValues:   t.HTTPPathParameters,
			HeaderParameters:      t.HTTPHeaders,
			QueryStringParameters: t.HTTPQueryParameters,
		}
	}

	if t.DeadLetterArn != "" {
		target.DeadLetterConfig = &events.DeadLetterConfig{Arn: t.DeadLetterArn}
	}

	if t.MaxRetryAttempts != nil || t.MaxEventAgeSeconds != nil {
		policy := &events.RetryPolicy{}
		if t.MaxRetryAttempts != nil {
			policy.MaximumRetryAttempts = *t.MaxRetryAttempts
		}
		if t.MaxEventAgeSeconds != nil {
			policy.MaximumEventAgeInSeconds = *t.MaxEventAgeSeconds
		}
		target.RetryPolicy = policy
	}

	return target
}
