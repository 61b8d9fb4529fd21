package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/evroute/ruled/internal/events"
	"github.com/evroute/ruled/internal/rule"
)

// Retryable error codes for put-targets partial-batch failures.
var putTargetsRetryCodes = map[string]bool{
	events.ErrCodeNotFound:               true,
	events.ErrCodeInternal:               true,
	events.ErrCodeConcurrentModification: true,
	events.ErrCodeLimitExceeded:          true,
}

// Executor performs queued operations against the remote service, one
// logical mutation per operation, classifying each outcome as success,
// retryable failure, or permanent failure.
type Executor struct {
	rules       events.API
	policies    events.PolicyAPI
	limiter     *rate.Limiter
	region      string
	principal   string
	callbackSec int
}

// NewExecutor creates an executor. Every remote mutation waits on the
// shared rate limiter before being issued.
func NewExecutor(rules events.API, policies events.PolicyAPI, limiter *rate.Limiter, region, principal string, callbackSec int) *Executor {
	return &Executor{
		rules:       rules,
		policies:    policies,
		limiter:     limiter,
		region:      region,
		principal:   principal,
		callbackSec: callbackSec,
	}
}

// Run drains the session's queue in order. Operations execute strictly
// one at a time; a retryable failure leaves the operation queued and
// returns control, a permanent failure removes it and stops, and a
// fully drained queue means convergence.
func (e *Executor) Run(ctx context.Context, s *Session, desired *rule.Normalized) {
	for !s.Halted() {
		op, ok := s.Queue.Head()
		if !ok {
			s.Progress = 100
			return
		}

		log.Debug().Str("op", string(op.Kind)).Int("queued", s.Queue.Len()).Msg("Executing operation")
		e.dispatch(ctx, s, desired, op)

		if s.Retry != nil {
			// Left queued; the next invocation resumes here with the
			// same payload.
			return
		}
		s.Queue.Complete(op.Kind)
	}
}

// dispatch routes one operation through the single kind switch.
func (e *Executor) dispatch(ctx context.Context, s *Session, desired *rule.Normalized, op Op) {
	switch op.Kind {
	case OpDescribe:
		e.describeRule(ctx, s, desired)
	case OpCreate:
		e.createRule(ctx, s, desired)
	case OpUpdate:
		e.updateRule(ctx, s, desired)
	case OpDiffTags:
		e.diffTags(ctx, s, desired)
	case OpDiffTargets:
		e.diffTargets(ctx, s, desired)
	case OpRemoveTags:
		e.removeTags(ctx, s, op)
	case OpSetTags:
		e.setTags(ctx, s, op)
	case OpRemoveTargets:
		e.removeTargets(ctx, s, op)
	case OpPutTargets:
		e.putTargets(ctx, s, op)
	case OpGrantFunction:
		e.grantFunctionAccess(ctx, s, op)
	case OpGrantTopic, OpGrantQueue:
		e.grantPolicyAccess(ctx, s, op)
	case OpDelete:
		e.deleteRule(ctx, s)
	default:
		s.PermError(FailureUnclassified, fmt.Sprintf("unknown operation %q", op.Kind), s.Progress)
	}
}

// wait blocks on the rate limiter before a remote call. A cancelled
// context is a retryable condition: the op stays queued.
func (e *Executor) wait(ctx context.Context, s *Session, op OpKind, progress int) bool {
	if err := e.limiter.Wait(ctx); err != nil {
		s.AddErrorLog("Invocation interrupted", map[string]any{"error": err.Error()})
		s.RetryError(string(op), progress, e.callbackSec)
		return false
	}
	return true
}

// handleRemoteError classifies a non-batch remote failure. The
// notFoundPermanent flag decides whether an absent resource is a user
// error (create/update/tag paths) or a transient read-during-expected-
// existence condition (facet diff paths).
func (e *Executor) handleRemoteError(s *Session, op OpKind, err error, progress int, notFoundPermanent bool) {
	code := events.ErrorCode(err)

	switch code {
	case events.ErrCodeInvalidEventPattern:
		s.AddErrorLog("The event pattern specified is invalid", map[string]any{"error": err.Error()})
		s.PermError(FailureValidation, err.Error(), progress)
	case events.ErrCodeLimitExceeded, events.ErrCodePolicyLengthExceeded:
		s.AddErrorLog("Remote quota reached", map[string]any{"error": err.Error()})
		s.PermError(FailureQuota, err.Error(), progress)
	case events.ErrCodeManagedRule:
		s.AddErrorLog("Rule is managed by another service and cannot be edited", map[string]any{"error": err.Error()})
		s.PermError(FailureManaged, err.Error(), progress)
	case events.ErrCodeConcurrentModification, events.ErrCodeInternal:
		s.AddErrorLog("Transient remote failure, retrying", map[string]any{"op": string(op), "error": err.Error()})
		s.RetryError(string(op), progress, e.callbackSec)
	case events.ErrCodeNotFound:
		if notFoundPermanent {
			s.AddErrorLog("Referenced resource not found", map[string]any{"error": err.Error()})
			s.PermError(FailureValidation, err.Error(), progress)
		} else {
			s.AddErrorLog("Rule not found, retrying", map[string]any{"op": string(op), "error": err.Error()})
			s.RetryError(string(op), progress, e.callbackSec)
		}
	case "":
		// Transport-level failure, not a service response.
		s.AddErrorLog("Remote call failed, retrying", map[string]any{"op": string(op), "error": err.Error()})
		s.RetryError(string(op), progress, e.callbackSec)
	default:
		s.AddErrorLog("Unclassified remote error", map[string]any{"op": string(op), "error": err.Error()})
		s.PermError(FailureUnclassified, err.Error(), progress)
	}
}

// recordIdentity stores the remote identity facts needed by later
// operations and exposes them as props and console links.
func (e *Executor) recordIdentity(s *Session, name, arn, roleArn, busName string) {
	if busName == "" {
		busName = "default"
	}

	s.SetState("name", name)
	s.SetState("arn", arn)
	s.SetState("role_arn", roleArn)
	s.SetState("event_bus_name", busName)
	s.SetState("region", e.region)

	s.AddProps(map[string]string{
		"arn":            arn,
		"name":           name,
		"role_arn":       roleArn,
		"event_bus_name": busName,
	})
	s.AddLinks(map[string]string{"Rule": ruleLink(e.region, busName, name)})
}

// ruleLink builds the console URL for a rule. Informational only.
func ruleLink(region, busName, name string) string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/events/home?region=%s#/eventbus/%s/rules/%s", region, region, busName, name)
}

// describeRule fetches the remote snapshot and seeds the queue with the
// core-facet outcome. Tag and target diffing are queued as separate
// operations so each facet fails and resumes independently.
func (e *Executor) describeRule(ctx context.Context, s *Session, desired *rule.Normalized) {
	name := s.State["name"]

	snapshot, err := e.rules.DescribeRule(ctx, name)
	if err != nil {
		if events.IsCode(err, events.ErrCodeNotFound) {
			s.AddLog("Rule does not exist", map[string]any{"name": name})
			s.Queue.Add(OpCreate, nil)
			return
		}
		e.handleRemoteError(s, OpDescribe, err, 10, false)
		return
	}

	s.AddLog("Got rule", map[string]any{"name": snapshot.Name, "arn": snapshot.Arn})
	e.recordIdentity(s, snapshot.Name, snapshot.Arn, snapshot.RoleArn, snapshot.EventBusName)

	if CoreChanged(desired.CoreInput().Core(), snapshot.Core()) {
		s.Queue.Add(OpUpdate, nil)
	}
	s.Queue.Add(OpDiffTags, nil)
	s.Queue.Add(OpDiffTargets, nil)
}

// createRule creates the rule with the full desired attribute set,
// tags included. A successful create appends the target put so the
// desired targets (and their permission grants) attach on first
// convergence.
func (e *Executor) createRule(ctx context.Context, s *Session, desired *rule.Normalized) {
	if !e.wait(ctx, s, OpCreate, 20) {
		return
	}

	input := desired.Input
	arn, err := e.rules.PutRule(ctx, &input)
	if err != nil {
		e.handleRemoteError(s, OpCreate, err, 20, true)
		return
	}

	s.AddLog("Created rule", map[string]any{"name": input.Name, "arn": arn})
	e.recordIdentity(s, input.Name, arn, input.RoleArn, input.EventBusName)

	if len(desired.Targets) > 0 {
		_, puts := DiffTargets(desired.Targets, nil)
		s.Queue.Add(OpPutTargets, puts)
	}
}

// updateRule fully replaces the rule's core attributes (the remote
// update API is an idempotent full-replace, not a patch).
func (e *Executor) updateRule(ctx context.Context, s *Session, desired *rule.Normalized) {
	if !e.wait(ctx, s, OpUpdate, 20) {
		return
	}

	input := desired.CoreInput()
	arn, err := e.rules.PutRule(ctx, input)
	if err != nil {
		e.handleRemoteError(s, OpUpdate, err, 20, true)
		return
	}

	roleArn := input.RoleArn
	if roleArn == "" {
		roleArn = s.State["role_arn"]
	}
	busName := input.EventBusName
	if busName == "" {
		busName = s.State["event_bus_name"]
	}

	s.AddLog("Updated rule", map[string]any{"name": input.Name, "arn": arn})
	e.recordIdentity(s, input.Name, arn, roleArn, busName)
}

// diffTags fetches the observed tag set and queues the minimal
// add/remove operations.
func (e *Executor) diffTags(ctx context.Context, s *Session, desired *rule.Normalized) {
	arn := s.State["arn"]

	observed, err := e.rules.ListTags(ctx, arn)
	if err != nil {
		e.handleRemoteError(s, OpDiffTags, err, 20, false)
		return
	}

	remove, set := DiffTags(desired.Tags(), observed)
	if len(remove) > 0 {
		s.Queue.Add(OpRemoveTags, remove)
	}
	if len(set) > 0 {
		s.Queue.Add(OpSetTags, set)
	}

	s.AddLog("Got tags", map[string]any{"remove": len(remove), "set": len(set)})
}

// diffTargets fetches the observed target list and queues removal of
// stray targets plus the unconditional re-put of every desired target.
func (e *Executor) diffTargets(ctx context.Context, s *Session, desired *rule.Normalized) {
	name := s.State["name"]

	observed, err := e.rules.ListTargets(ctx, name)
	if err != nil {
		e.handleRemoteError(s, OpDiffTargets, err, 25, false)
		return
	}

	remove, puts := DiffTargets(desired.Targets, observed)
	if len(remove) > 0 {
		s.Queue.Add(OpRemoveTargets, remove)
	}
	if len(puts) > 0 {
		s.Queue.Add(OpPutTargets, puts)
	}

	s.AddLog("Got targets", map[string]any{"remove": len(remove), "put": len(puts)})
}

func (e *Executor) removeTags(ctx context.Context, s *Session, op Op) {
	keys, err := opPayload[[]string](op)
	if err != nil {
		s.PermError(FailureUnclassified, err.Error(), 80)
		return
	}

	if !e.wait(ctx, s, OpRemoveTags, 80) {
		return
	}

	if err := e.rules.UntagResource(ctx, s.State["arn"], keys); err != nil {
		e.handleRemoteError(s, OpRemoveTags, err, 80, true)
		return
	}

	s.AddLog("Removed tags", map[string]any{"keys": keys})
}

func (e *Executor) setTags(ctx context.Context, s *Session, op Op) {
	set, err := opPayload[map[string]string](op)
	if err != nil {
		s.PermError(FailureUnclassified, err.Error(), 90)
		return
	}

	if !e.wait(ctx, s, OpSetTags, 90) {
		return
	}

	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tags := make([]events.Tag, 0, len(keys))
	for _, key := range keys {
		tags = append(tags, events.Tag{Key: key, Value: set[key]})
	}

	if err := e.rules.TagResource(ctx, s.State["arn"], tags); err != nil {
		e.handleRemoteError(s, OpSetTags, err, 90, true)
		return
	}

	s.AddLog("Tags added", map[string]any{"count": len(tags)})
}

// removeTargets detaches stray targets. Partial-batch policy: all items
// failing with not-found means the targets are already gone (success),
// all items failing as managed means the rule belongs to another service
// (permanent), anything else retries the whole batch.
func (e *Executor) removeTargets(ctx context.Context, s *Session, op Op) {
	ids, err := opPayload[[]string](op)
	if err != nil {
		s.PermError(FailureUnclassified, err.Error(), 80)
		return
	}

	if !e.wait(ctx, s, OpRemoveTargets, 80) {
		return
	}

	result, err := e.rules.RemoveTargets(ctx, s.State["name"], s.State["event_bus_name"], ids)
	if err != nil {
		e.handleRemoteError(s, OpRemoveTargets, err, 80, true)
		return
	}

	if result.FailedEntryCount > 0 {
		switch {
		case allCodes(result.FailedEntries, events.ErrCodeNotFound):
			s.AddLog("Targets already removed", map[string]any{"ids": ids})
		case allCodes(result.FailedEntries, events.ErrCodeManagedRule):
			e.logBatchFailures(s, "Target removal rejected for managed rule", result.FailedEntries)
			s.PermError(FailureManaged, batchMessage(result.FailedEntries), 80)
		default:
			e.logBatchFailures(s, "Target removal failed, retrying batch", result.FailedEntries)
			s.RetryError(string(OpRemoveTargets), 80, e.callbackSec)
		}
		return
	}

	s.AddLog("Removed targets", map[string]any{"ids": ids})
}

// putTargets attaches the desired targets. Partial-batch policy: if every
// failed item's code is retryable the whole batch retries; if every
// failed item is managed the reconciliation permanently fails; mixed
// codes retry the batch, since no subset is safely separable.
func (e *Executor) putTargets(ctx context.Context, s *Session, op Op) {
	targets, err := opPayload[[]events.Target](op)
	if err != nil {
		s.PermError(FailureUnclassified, err.Error(), 80)
		return
	}

	if !e.wait(ctx, s, OpPutTargets, 80) {
		return
	}

	result, err := e.rules.PutTargets(ctx, s.State["name"], targets)
	if err != nil {
		e.handleRemoteError(s, OpPutTargets, err, 80, true)
		return
	}

	if result.FailedEntryCount > 0 {
		switch {
		case allIn(result.FailedEntries, putTargetsRetryCodes):
			e.logBatchFailures(s, "Target put failed, retrying batch", result.FailedEntries)
			s.RetryError(string(OpPutTargets), 80, e.callbackSec)
		case allCodes(result.FailedEntries, events.ErrCodeManagedRule):
			e.logBatchFailures(s, "Target put rejected for managed rule", result.FailedEntries)
			s.PermError(FailureManaged, batchMessage(result.FailedEntries), 80)
		default:
			e.logBatchFailures(s, "Target put failed with mixed codes, retrying batch", result.FailedEntries)
			s.RetryError(string(OpPutTargets), 80, e.callbackSec)
		}
		return
	}

	s.AddLog("Put targets", map[string]any{"count": len(targets)})

	// Externally-invocable destinations need a permission grant before
	// the service may invoke them. Grants queue in a fixed kind order so
	// resumed invocations replay identically.
	grants := grantOps(targets)
	for _, kind := range []OpKind{OpGrantFunction, OpGrantTopic, OpGrantQueue} {
		if arns, ok := grants[kind]; ok {
			s.Queue.Add(kind, arns)
		}
	}
}

// grantFunctionAccess issues the conflict-tolerant invoke grant for each
// function destination. An identical-statement conflict is success.
func (e *Executor) grantFunctionAccess(ctx context.Context, s *Session, op Op) {
	arns, err := opPayload[[]string](op)
	if err != nil {
		s.PermError(FailureUnclassified, err.Error(), 90)
		return
	}

	sid := statementID(s.State["name"])
	sourceArn := s.State["arn"]

	for _, arn := range arns {
		if !e.wait(ctx, s, OpGrantFunction, 90) {
			return
		}

		err := e.policies.GrantInvoke(ctx, arn, sid, e.principal, sourceArn)
		if err != nil {
			if events.IsCode(err, events.ErrCodeResourceConflict) {
				s.AddLog("Invoke permission already granted", map[string]any{"function": arn})
				continue
			}
			e.handleRemoteError(s, OpGrantFunction, err, 90, true)
			return
		}

		s.AddLog("Granted invoke permission", map[string]any{"function": arn})
	}
}

// grantPolicyAccess upserts the rule-scoped authorization statement into
// each destination's access policy: fetch (or start empty), drop any
// prior statement with the well-known identifier, append the new grant,
// and write the policy back in full.
func (e *Executor) grantPolicyAccess(ctx context.Context, s *Session, op Op) {
	arns, err := opPayload[[]string](op)
	if err != nil {
		s.PermError(FailureUnclassified, err.Error(), 90)
		return
	}

	sid := statementID(s.State["name"])
	sourceArn := s.State["arn"]
	action := grantAction(op.Kind)

	for _, arn := range arns {
		if !e.wait(ctx, s, op.Kind, 90) {
			return
		}

		policy, err := e.policies.GetPolicy(ctx, arn)
		if err != nil {
			e.handleRemoteError(s, op.Kind, err, 90, true)
			return
		}

		upsertStatement(policy, grantStatement(sid, e.principal, action, arn, sourceArn))

		if err := e.policies.SetPolicy(ctx, arn, policy); err != nil {
			e.handleRemoteError(s, op.Kind, err, 90, true)
			return
		}

		s.AddLog("Granted destination access", map[string]any{"destination": arn, "action": action})
	}
}

// deleteRule deletes the rule. Absence is the desired end state, so a
// not-found response is success, not an error.
func (e *Executor) deleteRule(ctx context.Context, s *Session) {
	name := s.State["name"]

	if !e.wait(ctx, s, OpDelete, 80) {
		return
	}

	if err := e.rules.DeleteRule(ctx, name); err != nil {
		if events.IsCode(err, events.ErrCodeNotFound) {
			s.AddLog("Rule already deleted", map[string]any{"name": name})
			return
		}
		e.handleRemoteError(s, OpDelete, err, 80, false)
		return
	}

	s.AddLog("Rule deleted", map[string]any{"name": name})
}

func allCodes(entries []events.BatchEntryError, code string) bool {
	for _, entry := range entries {
		if entry.ErrorCode != code {
			return false
		}
	}
	return true
}

func allIn(entries []events.BatchEntryError, codes map[string]bool) bool {
	for _, entry := range entries {
		if !codes[entry.ErrorCode] {
			return false
		}
	}
	return true
}

func batchMessage(entries []events.BatchEntryError) string {
	if len(entries) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: %s (target %s)", entries[0].ErrorCode, entries[0].ErrorMessage, entries[0].TargetID)
}

func (e *Executor) logBatchFailures(s *Session, message string, entries []events.BatchEntryError) {
	for _, entry := range entries {
		s.AddErrorLog(message, map[string]any{
			"target_id": entry.TargetID,
			"code":      entry.ErrorCode,
			"message":   entry.ErrorMessage,
		})
	}
}
