package events

// Policy is a resource access-policy document, written back in full on
// every change (full-replace semantics, not patch).
type Policy struct {
	Version   string      `json:"Version"`
	ID        string      `json:"Id,omitempty"`
	Statement []Statement `json:"Statement"`
}

// Statement grants a principal an action on a resource.
type Statement struct {
	Sid       string                       `json:"Sid,omitempty"`
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal,omitempty"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource,omitempty"`
	Condition map[string]map[string]string `json:"Condition,omitempty"`
}

// EmptyPolicy returns a fresh policy document with no statements.
func EmptyPolicy() *Policy {
	return &Policy{Version: "2012-10-17"}
}
