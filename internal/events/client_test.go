package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_DescribeRule(t *testing.T) {
	var gotTarget, gotAuth string
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTarget = r.Header.Get("X-Api-Target")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(RuleSnapshot{
			Name:  "orders",
			Arn:   "arn:aws:events:us-east-1:111:rule/orders",
			State: "ENABLED",
		})
	}))
	defer remote.Close()

	client := NewClient(remote.URL, "tok-123", 5*time.Second)
	defer client.Close()

	snapshot, err := client.DescribeRule(context.Background(), "orders")
	if err != nil {
		t.Fatalf("DescribeRule: %v", err)
	}

	if gotTarget != "Rules.DescribeRule" {
		t.Errorf("X-Api-Target = %q", gotTarget)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if snapshot.Name != "orders" || snapshot.State != "ENABLED" {
		t.Errorf("snapshot = %+v", snapshot)
	}
}

func TestClient_DecodesAPIError(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"__type":"ResourceNotFoundException","message":"rule orders does not exist"}`))
	}))
	defer remote.Close()

	client := NewClient(remote.URL, "", 5*time.Second)
	defer client.Close()

	_, err := client.DescribeRule(context.Background(), "orders")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !IsCode(err, ErrCodeNotFound) {
		t.Errorf("err = %v, want %s", err, ErrCodeNotFound)
	}
}

func TestClient_ListTagsFlattensToMap(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Tags":[{"Key":"team","Value":"data"},{"Key":"env","Value":"prod"}]}`))
	}))
	defer remote.Close()

	client := NewClient(remote.URL, "", 5*time.Second)
	defer client.Close()

	tags, err := client.ListTags(context.Background(), "arn:aws:events:us-east-1:111:rule/orders")
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if tags["team"] != "data" || tags["env"] != "prod" {
		t.Errorf("tags = %v", tags)
	}
}

func TestClient_GetPolicyMissingIsEmptyDocument(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"__type":"ResourceNotFoundException","message":"no policy"}`))
	}))
	defer remote.Close()

	client := NewClient(remote.URL, "", 5*time.Second)
	defer client.Close()

	policy, err := client.GetPolicy(context.Background(), "arn:aws:sqs:us-east-1:111:q")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if policy == nil || len(policy.Statement) != 0 {
		t.Errorf("policy = %+v, want empty document", policy)
	}
	if policy.Version != "2012-10-17" {
		t.Errorf("Version = %q", policy.Version)
	}
}

func TestClient_SetPolicySerializesDocument(t *testing.T) {
	var gotBody struct {
		ResourceArn string `json:"ResourceArn"`
		Policy      string `json:"Policy"`
	}
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer remote.Close()

	client := NewClient(remote.URL, "", 5*time.Second)
	defer client.Close()

	policy := EmptyPolicy()
	policy.Statement = append(policy.Statement, Statement{Sid: "ruled-orders", Effect: "Allow"})

	if err := client.SetPolicy(context.Background(), "arn:aws:sqs:us-east-1:111:q", policy); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	if gotBody.ResourceArn != "arn:aws:sqs:us-east-1:111:q" {
		t.Errorf("ResourceArn = %q", gotBody.ResourceArn)
	}

	var decoded Policy
	if err := json.Unmarshal([]byte(gotBody.Policy), &decoded); err != nil {
		t.Fatalf("policy document is not valid JSON: %v", err)
	}
	if len(decoded.Statement) != 1 || decoded.Statement[0].Sid != "ruled-orders" {
		t.Errorf("decoded policy = %+v", decoded)
	}
}
