package reconcile

import (
	"sort"
	"strings"

	"github.com/evroute/ruled/internal/events"
)

// destinationKind classifies a target's resource kind from its handle's
// service namespace.
type destinationKind int

const (
	kindUnsupported destinationKind = iota
	kindFunction
	kindTopic
	kindQueue
)

// classifyDestination parses the service namespace out of a target ARN.
// Kinds whose authorization is carried by the target's own invocation
// role (or that we cannot grant on) come back as unsupported.
func classifyDestination(arn string) destinationKind {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 || parts[0] != "arn" {
		return kindUnsupported
	}

	switch parts[2] {
	case "lambda":
		return kindFunction
	case "sns":
		return kindTopic
	case "sqs":
		return kindQueue
	default:
		return kindUnsupported
	}
}

// grantOps groups freshly-put targets by destination kind and returns
// one grant operation payload per externally-invocable kind. Unsupported
// kinds are silently skipped.
func grantOps(targets []events.Target) map[OpKind][]string {
	grouped := make(map[OpKind][]string)

	for _, target := range targets {
		var kind OpKind
		switch classifyDestination(target.Arn) {
		case kindFunction:
			kind = OpGrantFunction
		case kindTopic:
			kind = OpGrantTopic
		case kindQueue:
			kind = OpGrantQueue
		default:
			continue
		}

		grouped[kind] = appendUnique(grouped[kind], target.Arn)
	}

	for kind := range grouped {
		sort.Strings(grouped[kind])
	}
	return grouped
}

func appendUnique(arns []string, arn string) []string {
	for _, existing := range arns {
		if existing == arn {
			return arns
		}
	}
	return append(arns, arn)
}

// statementID is the well-known authorization statement identifier
// scoped to a rule. Re-grants for the same rule replace the prior
// statement instead of accumulating duplicates.
func statementID(ruleName string) string {
	return "ruled-" + ruleName
}

// grantAction is the minimum action the event-routing principal needs on
// a destination of the given kind.
func grantAction(kind OpKind) string {
	switch kind {
	case OpGrantTopic:
		return "sns:Publish"
	case OpGrantQueue:
		return "sqs:SendMessage"
	default:
		return "lambda:InvokeFunction"
	}
}

// grantStatement builds the authorization statement granting the
// event-routing service principal the given action on a destination,
// scoped to the source rule.
func grantStatement(sid, principal, action, resourceArn, sourceArn string) events.Statement {
	stmt := events.Statement{
		Sid:       sid,
		Effect:    "Allow",
		Principal: map[string]string{"Service": principal},
		Action:    action,
		Resource:  resourceArn,
	}
	if sourceArn != "" {
		stmt.Condition = map[string]map[string]string{
			"ArnEquals": {"aws:SourceArn": sourceArn},
		}
	}
	return stmt
}

// upsertStatement removes any prior statement with the same identifier
// and appends the new one. The caller writes the policy back in full.
func upsertStatement(policy *events.Policy, stmt events.Statement) {
	kept := policy.Statement[:0]
	for _, existing := range policy.Statement {
		if existing.Sid != stmt.Sid {
			kept = append(kept, existing)
		}
	}
	policy.Statement = append(kept, stmt)
}
