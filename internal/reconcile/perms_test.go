package reconcile

import (
	"reflect"
	"testing"

	"github.com/evroute/ruled/internal/events"
)

func TestClassifyDestination(t *testing.T) {
	tests := []struct {
		arn  string
		want destinationKind
	}{
		{"arn:aws:lambda:us-east-1:111:function:orders", kindFunction},
		{"arn:aws:sns:us-east-1:111:notifications", kindTopic},
		{"arn:aws:sqs:us-east-1:111:orders-queue", kindQueue},
		{"arn:aws:states:us-east-1:111:stateMachine:flow", kindUnsupported},
		{"arn:aws:kinesis:us-east-1:111:stream/events", kindUnsupported},
		{"not-an-arn", kindUnsupported},
		{"arn:aws:lambda", kindUnsupported},
		{"", kindUnsupported},
	}

	for _, tc := range tests {
		if got := classifyDestination(tc.arn); got != tc.want {
			t.Errorf("classifyDestination(%q) = %v, want %v", tc.arn, got, tc.want)
		}
	}
}

func TestGrantOps(t *testing.T) {
	targets := []events.Target{
		{ID: "t1", Arn: "arn:aws:lambda:us-east-1:111:function:b"},
		{ID: "t2", Arn: "arn:aws:lambda:us-east-1:111:function:a"},
		{ID: "t3", Arn: "arn:aws:lambda:us-east-1:111:function:a"}, // duplicate arn
		{ID: "t4", Arn: "arn:aws:sqs:us-east-1:111:q"},
		{ID: "t5", Arn: "arn:aws:states:us-east-1:111:stateMachine:flow"}, // role-authorized
	}

	ops := grantOps(targets)

	wantFunctions := []string{
		"arn:aws:lambda:us-east-1:111:function:a",
		"arn:aws:lambda:us-east-1:111:function:b",
	}
	if !reflect.DeepEqual(ops[OpGrantFunction], wantFunctions) {
		t.Errorf("function grants = %v, want %v", ops[OpGrantFunction], wantFunctions)
	}
	if !reflect.DeepEqual(ops[OpGrantQueue], []string{"arn:aws:sqs:us-east-1:111:q"}) {
		t.Errorf("queue grants = %v", ops[OpGrantQueue])
	}
	if _, ok := ops[OpGrantTopic]; ok {
		t.Errorf("unexpected topic grants: %v", ops[OpGrantTopic])
	}
	if len(ops) != 2 {
		t.Errorf("expected 2 grant kinds, got %d", len(ops))
	}
}

func TestStatementID(t *testing.T) {
	if got := statementID("orders"); got != "ruled-orders" {
		t.Errorf("statementID = %q, want %q", got, "ruled-orders")
	}
}

func TestGrantAction(t *testing.T) {
	tests := []struct {
		kind OpKind
		want string
	}{
		{OpGrantTopic, "sns:Publish"},
		{OpGrantQueue, "sqs:SendMessage"},
		{OpGrantFunction, "lambda:InvokeFunction"},
	}
	for _, tc := range tests {
		if got := grantAction(tc.kind); got != tc.want {
			t.Errorf("grantAction(%s) = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestUpsertStatement_ReplacesNotAccumulates(t *testing.T) {
	policy := events.EmptyPolicy()
	policy.Statement = append(policy.Statement, events.Statement{Sid: "other", Effect: "Allow"})

	first := grantStatement("ruled-orders", "events.amazonaws.com", "sqs:SendMessage",
		"arn:aws:sqs:us-east-1:111:q", "arn:aws:events:us-east-1:111:rule/orders")
	upsertStatement(policy, first)
	upsertStatement(policy, first)

	if len(policy.Statement) != 2 {
		t.Fatalf("expected 2 statements after repeated upsert, got %d", len(policy.Statement))
	}

	count := 0
	for _, stmt := range policy.Statement {
		if stmt.Sid == "ruled-orders" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one ruled-orders statement, got %d", count)
	}
}

func TestUpsertStatement_LatestWins(t *testing.T) {
	policy := events.EmptyPolicy()

	old := grantStatement("ruled-orders", "events.amazonaws.com", "sqs:SendMessage",
		"arn:aws:sqs:us-east-1:111:old", "arn:aws:events:us-east-1:111:rule/orders")
	upsertStatement(policy, old)

	updated := grantStatement("ruled-orders", "events.amazonaws.com", "sqs:SendMessage",
		"arn:aws:sqs:us-east-1:111:new", "arn:aws:events:us-east-1:111:rule/orders")
	upsertStatement(policy, updated)

	if len(policy.Statement) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(policy.Statement))
	}
	if policy.Statement[0].Resource != "arn:aws:sqs:us-east-1:111:new" {
		t.Errorf("Resource = %q, want the updated arn", policy.Statement[0].Resource)
	}
}

func TestGrantStatement(t *testing.T) {
	stmt := grantStatement("ruled-orders", "events.amazonaws.com", "sns:Publish",
		"arn:aws:sns:us-east-1:111:topic", "arn:aws:events:us-east-1:111:rule/orders")

	if stmt.Effect != "Allow" {
		t.Errorf("Effect = %q, want Allow", stmt.Effect)
	}
	if stmt.Principal["Service"] != "events.amazonaws.com" {
		t.Errorf("Principal = %v", stmt.Principal)
	}
	if got := stmt.Condition["ArnEquals"]["aws:SourceArn"]; got != "arn:aws:events:us-east-1:111:rule/orders" {
		t.Errorf("SourceArn condition = %q", got)
	}
}
