package reconcile

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/evroute/ruled/internal/events"
	"github.com/evroute/ruled/internal/rule"
)

// Invocation operations.
const (
	OpUpsertRule = "upsert"
	OpDeleteRule = "delete"
)

// Request is one reconciliation invocation.
type Request struct {
	Op           string              `json:"op"`
	ComponentDef *rule.DesiredConfig `json:"component_def,omitempty"`
	PrevState    PrevState           `json:"prev_state"`
	PassBack     *Snapshot           `json:"pass_back_data,omitempty"`
}

// PrevState carries the properties reported by the last converged
// reconciliation of this rule, if any.
type PrevState struct {
	Props map[string]string `json:"props,omitempty"`
}

// Response is the convergence report for one invocation. Done=false with
// PassBack set means the caller should re-invoke after the suggested
// callback delay to resume the queued work.
type Response struct {
	Props    map[string]string `json:"props,omitempty"`
	Links    map[string]string `json:"links,omitempty"`
	State    map[string]string `json:"state,omitempty"`
	Logs     []LogEntry        `json:"logs,omitempty"`
	Progress int               `json:"progress"`
	Error    *Failure          `json:"error,omitempty"`
	PassBack *Snapshot         `json:"pass_back_data,omitempty"`
	Done     bool              `json:"done"`
}

// Reconciler converges a single rule's remote state to a desired
// configuration across repeated, possibly-interrupted invocations.
type Reconciler struct {
	exec *Executor
}

// New creates a reconciler backed by the given remote clients.
func New(rules events.API, policies events.PolicyAPI, rateLimitRPS float64, region, principal string, callbackSec int) *Reconciler {
	if rateLimitRPS == 0 {
		rateLimitRPS = 10.0
	}
	limiter := rate.NewLimiter(rate.Limit(rateLimitRPS), int(rateLimitRPS))

	return &Reconciler{
		exec: NewExecutor(rules, policies, limiter, region, principal, callbackSec),
	}
}

// Reconcile runs one invocation to completion or suspension. It never
// returns an error: every failure is translated into the response.
func (r *Reconciler) Reconcile(ctx context.Context, req *Request) *Response {
	cfg := req.ComponentDef
	if cfg == nil {
		cfg = &rule.DesiredConfig{}
	}
	desired := rule.Normalize(cfg)

	var s *Session
	if req.PassBack != nil {
		s = RestoreSession(req.PassBack)
		log.Debug().Strs("ops", opKindStrings(s.Queue.Kinds())).Msg("Resuming reconciliation")
	} else {
		s = r.seed(req, cfg)
	}

	if !s.Halted() {
		r.exec.Run(ctx, s, desired)
	}

	return buildResponse(s)
}

// seed starts a fresh session: the rename-immutability check runs before
// any operation is queued, and the starting operation depends on whether
// a previous identity exists.
func (r *Reconciler) seed(req *Request, cfg *rule.DesiredConfig) *Session {
	s := NewSession()
	prevName := req.PrevState.Props["name"]

	switch req.Op {
	case OpUpsertRule:
		if cfg.Name == "" {
			s.AddErrorLog("Desired configuration has no name", nil)
			s.PermError(FailureValidation, "a rule name is required", 0)
			return s
		}

		if prevName != "" && prevName != cfg.Name {
			// Renaming in place is unsupported; the caller must
			// provision a new identity.
			msg := "you may not edit the name of the existing rule; create a new component with the desired name"
			s.AddErrorLog("Cannot edit non-editable field", map[string]any{"error": msg})
			s.PermError(FailureValidation, msg, 10)
			return s
		}

		s.SetState("name", cfg.Name)
		if prevName != "" {
			s.Queue.Add(OpDescribe, nil)
		} else {
			s.Queue.Add(OpCreate, nil)
		}

	case OpDeleteRule:
		if prevName == "" {
			s.AddLog("No previous identity, nothing to delete", nil)
			return s
		}
		s.SetState("name", prevName)
		if busName := req.PrevState.Props["event_bus_name"]; busName != "" {
			s.SetState("event_bus_name", busName)
		}
		s.Queue.Add(OpDelete, nil)

	default:
		s.PermError(FailureValidation, "unknown operation: "+req.Op, 0)
	}

	return s
}

func buildResponse(s *Session) *Response {
	resp := &Response{
		Props:    s.Props,
		Links:    s.Links,
		State:    s.State,
		Logs:     s.Logs,
		Progress: s.Progress,
	}

	switch {
	case s.Failure != nil:
		resp.Error = s.Failure
		resp.Done = true
	case s.Retry != nil:
		resp.PassBack = s.Snapshot()
	default:
		resp.Progress = 100
		resp.Done = true
	}

	return resp
}

func opKindStrings(kinds []OpKind) []string {
	out := make([]string, len(kinds))
	for i, kind := range kinds {
		out[i] = string(kind)
	}
	return out
}
