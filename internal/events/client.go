// Package events provides the client for the remote event-routing
// service and the access-policy endpoints of its target services.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// API is the narrow contract the reconciler consumes for rule state.
type API interface {
	DescribeRule(ctx context.Context, name string) (*RuleSnapshot, error)
	PutRule(ctx context.Context, input *RuleInput) (arn string, err error)
	DeleteRule(ctx context.Context, name string) error
	ListTags(ctx context.Context, arn string) (map[string]string, error)
	TagResource(ctx context.Context, arn string, tags []Tag) error
	UntagResource(ctx context.Context, arn string, keys []string) error
	ListTargets(ctx context.Context, ruleName string) ([]Target, error)
	PutTargets(ctx context.Context, ruleName string, targets []Target) (*BatchResult, error)
	RemoveTargets(ctx context.Context, ruleName, busName string, ids []string) (*BatchResult, error)
}

// PolicyAPI is the contract for idempotent permission grants on target
// resources.
type PolicyAPI interface {
	GetPolicy(ctx context.Context, arn string) (*Policy, error)
	SetPolicy(ctx context.Context, arn string, policy *Policy) error
	GrantInvoke(ctx context.Context, functionArn, statementID, principal, sourceArn string) error
}

// Client talks to the event-routing service over its JSON API.
// It implements both API and PolicyAPI.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient creates a new event-routing service client.
func NewClient(endpoint, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Close closes the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// call performs one JSON API call, decoding the response into out when
// out is non-nil. Remote failures are returned as *APIError.
func (c *Client) call(ctx context.Context, action string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Target", action)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", action, err)
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(action, resp.StatusCode, data)
	}

	log.Debug().Str("action", action).Int("status", resp.StatusCode).Msg("Remote call completed")

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	return nil
}

// decodeAPIError maps a failed response body onto an APIError.
func decodeAPIError(action string, status int, data []byte) error {
	var wire struct {
		Code    string `json:"code"`
		Type    string `json:"__type"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &wire)

	code := wire.Code
	if code == "" {
		code = wire.Type
	}
	message := wire.Message
	if message == "" {
		message = string(data)
	}

	log.Debug().Str("action", action).Int("status", status).Str("code", code).Msg("Remote call failed")

	return &APIError{Code: code, Message: message, Status: status}
}

// DescribeRule fetches the core state of a rule.
func (c *Client) DescribeRule(ctx context.Context, name string) (*RuleSnapshot, error) {
	var snapshot RuleSnapshot
	in := struct {
		Name string `json:"Name"`
	}{Name: name}

	if err := c.call(ctx, "Rules.DescribeRule", in, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// PutRule creates or fully replaces a rule's core attributes.
func (c *Client) PutRule(ctx context.Context, input *RuleInput) (string, error) {
	var out struct {
		RuleArn string `json:"RuleArn"`
	}
	if err := c.call(ctx, "Rules.PutRule", input, &out); err != nil {
		return "", err
	}
	return out.RuleArn, nil
}

// DeleteRule deletes a rule.
func (c *Client) DeleteRule(ctx context.Context, name string) error {
	in := struct {
		Name string `json:"Name"`
	}{Name: name}
	return c.call(ctx, "Rules.DeleteRule", in, nil)
}

// ListTags returns the tag set attached to a rule.
func (c *Client) ListTags(ctx context.Context, arn string) (map[string]string, error) {
	in := struct {
		ResourceARN string `json:"ResourceARN"`
	}{ResourceARN: arn}

	var out struct {
		Tags []Tag `json:"Tags"`
	}
	if err := c.call(ctx, "Rules.ListTagsForResource", in, &out); err != nil {
		return nil, err
	}

	tags := make(map[string]string, len(out.Tags))
	for _, tag := range out.Tags {
		tags[tag.Key] = tag.Value
	}
	return tags, nil
}

// TagResource adds or updates tags on a rule.
func (c *Client) TagResource(ctx context.Context, arn string, tags []Tag) error {
	in := struct {
		ResourceARN string `json:"ResourceARN"`
		Tags        []Tag  `json:"Tags"`
	}{ResourceARN: arn, Tags: tags}
	return c.call(ctx, "Rules.TagResource", in, nil)
}

// UntagResource removes tags from a rule by key.
func (c *Client) UntagResource(ctx context.Context, arn string, keys []string) error {
	in := struct {
		ResourceARN string   `json:"ResourceARN"`
		TagKeys     []string `json:"TagKeys"`
	}{ResourceARN: arn, TagKeys: keys}
	return c.call(ctx, "Rules.UntagResource", in, nil)
}

// ListTargets returns the targets attached to a rule.
func (c *Client) ListTargets(ctx context.Context, ruleName string) ([]Target, error) {
	in := struct {
		Rule string `json:"Rule"`
	}{Rule: ruleName}

	var out struct {
		Targets []Target `json:"Targets"`
	}
	if err := c.call(ctx, "Rules.ListTargetsByRule", in, &out); err != nil {
		return nil, err
	}
	return out.Targets, nil
}

// PutTargets attaches or replaces targets on a rule.
func (c *Client) PutTargets(ctx context.Context, ruleName string, targets []Target) (*BatchResult, error) {
	in := struct {
		Rule    string   `json:"Rule"`
		Targets []Target `json:"Targets"`
	}{Rule: ruleName, Targets: targets}

	var out BatchResult
	if err := c.call(ctx, "Rules.PutTargets", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveTargets detaches targets from a rule by id.
func (c *Client) RemoveTargets(ctx context.Context, ruleName, busName string, ids []string) (*BatchResult, error) {
	in := struct {
		Rule         string   `json:"Rule"`
		EventBusName string   `json:"EventBusName,omitempty"`
		Ids          []string `json:"Ids"`
		Force        bool     `json:"Force"`
	}{Rule: ruleName, EventBusName: busName, Ids: ids}

	var out BatchResult
	if err := c.call(ctx, "Rules.RemoveTargets", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPolicy fetches a target resource's access policy.
// A missing policy is returned as an empty document, not an error.
func (c *Client) GetPolicy(ctx context.Context, arn string) (*Policy, error) {
	in := struct {
		ResourceArn string `json:"ResourceArn"`
	}{ResourceArn: arn}

	var out struct {
		Policy string `json:"Policy"`
	}
	if err := c.call(ctx, "Destinations.GetPolicy", in, &out); err != nil {
		if IsCode(err, ErrCodeNotFound) {
			return EmptyPolicy(), nil
		}
		return nil, err
	}

	if out.Policy == "" {
		return EmptyPolicy(), nil
	}

	var policy Policy
	if err := json.Unmarshal([]byte(out.Policy), &policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy document: %w", err)
	}
	return &policy, nil
}

// SetPolicy writes a target resource's access policy in full.
func (c *Client) SetPolicy(ctx context.Context, arn string, policy *Policy) error {
	doc, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy document: %w", err)
	}

	in := struct {
		ResourceArn string `json:"ResourceArn"`
		Policy      string `json:"Policy"`
	}{ResourceArn: arn, Policy: string(doc)}
	return c.call(ctx, "Destinations.SetPolicy", in, nil)
}

// GrantInvoke adds an invoke permission statement to a function.
// The remote call is an upsert keyed by statement id; a conflict for an
// identical statement is surfaced as ResourceConflictException.
func (c *Client) GrantInvoke(ctx context.Context, functionArn, statementID, principal, sourceArn string) error {
	in := struct {
		FunctionName string `json:"FunctionName"`
		StatementId  string `json:"StatementId"`
		Action       string `json:"Action"`
		Principal    string `json:"Principal"`
		SourceArn    string `json:"SourceArn"`
	}{
		FunctionName: functionArn,
		StatementId:  statementID,
		Action:       "lambda:InvokeFunction",
		Principal:    principal,
		SourceArn:    sourceArn,
	}
	return c.call(ctx, "Destinations.AddPermission", in, nil)
}
