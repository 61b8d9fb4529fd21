package reconcile

import (
	"reflect"
	"testing"

	"github.com/evroute/ruled/internal/events"
	"github.com/evroute/ruled/internal/rule"
)

func TestCoreChanged(t *testing.T) {
	tests := []struct {
		name     string
		desired  map[string]string
		observed map[string]string
		want     bool
	}{
		{
			name:     "identical",
			desired:  map[string]string{"Name": "orders", "State": "ENABLED"},
			observed: map[string]string{"Name": "orders", "State": "ENABLED"},
			want:     false,
		},
		{
			name:     "extra_observed_attribute_ignored",
			desired:  map[string]string{"Name": "orders"},
			observed: map[string]string{"Name": "orders", "Description": "legacy"},
			want:     false,
		},
		{
			name:     "value_differs",
			desired:  map[string]string{"Name": "orders", "ScheduleExpression": "rate(5 minutes)"},
			observed: map[string]string{"Name": "orders", "ScheduleExpression": "rate(1 hour)"},
			want:     true,
		},
		{
			name:     "desired_key_missing",
			desired:  map[string]string{"Name": "orders", "RoleArn": "arn:aws:iam::111:role/r"},
			observed: map[string]string{"Name": "orders"},
			want:     true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CoreChanged(tc.desired, tc.observed); got != tc.want {
				t.Errorf("CoreChanged() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDiffTags(t *testing.T) {
	tests := []struct {
		name       string
		desired    map[string]string
		observed   map[string]string
		wantRemove []string
		wantSet    map[string]string
	}{
		{
			name:       "minimal_difference",
			desired:    map[string]string{"a": "1", "b": "2"},
			observed:   map[string]string{"b": "2", "c": "3"},
			wantRemove: []string{"c"},
			wantSet:    map[string]string{"a": "1"},
		},
		{
			name:     "identical",
			desired:  map[string]string{"a": "1"},
			observed: map[string]string{"a": "1"},
		},
		{
			name:       "empty_desired_removes_all",
			desired:    nil,
			observed:   map[string]string{"z": "1", "a": "2"},
			wantRemove: []string{"a", "z"},
		},
		{
			name:    "changed_value_is_set_not_removed",
			desired: map[string]string{"a": "2"},
			observed: map[string]string{
				"a": "1",
			},
			wantSet: map[string]string{"a": "2"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			remove, set := DiffTags(tc.desired, tc.observed)
			if !reflect.DeepEqual(remove, tc.wantRemove) {
				t.Errorf("remove = %v, want %v", remove, tc.wantRemove)
			}
			if !reflect.DeepEqual(set, tc.wantSet) {
				t.Errorf("set = %v, want %v", set, tc.wantSet)
			}
		})
	}
}

func TestDiffTargets(t *testing.T) {
	desired := map[string]rule.TargetSpec{
		"t1": {ID: "t1", Arn: "arn:aws:lambda:us-east-1:111:function:a"},
		"t2": {ID: "t2", Arn: "arn:aws:sqs:us-east-1:111:q"},
	}
	observed := []events.Target{
		{ID: "t1", Arn: "arn:aws:lambda:us-east-1:111:function:a"},
		{ID: "t3", Arn: "arn:aws:sns:us-east-1:111:stale"},
	}

	remove, puts := DiffTargets(desired, observed)

	if !reflect.DeepEqual(remove, []string{"t3"}) {
		t.Errorf("remove = %v, want [t3]", remove)
	}

	// Every desired target is re-put, including the unchanged t1.
	ids := make([]string, 0, len(puts))
	for _, put := range puts {
		ids = append(ids, put.ID)
	}
	if !reflect.DeepEqual(ids, []string{"t1", "t2"}) {
		t.Errorf("put ids = %v, want [t1 t2]", ids)
	}
}

func TestDiffTargets_NothingObserved(t *testing.T) {
	desired := map[string]rule.TargetSpec{
		"t1": {ID: "t1", Arn: "arn:aws:lambda:us-east-1:111:function:a"},
	}

	remove, puts := DiffTargets(desired, nil)

	if len(remove) != 0 {
		t.Errorf("remove = %v, want empty", remove)
	}
	if len(puts) != 1 || puts[0].ID != "t1" {
		t.Errorf("puts = %v, want single t1", puts)
	}
}
