package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearDefinition() *FlowDefinition {
	return &FlowDefinition{
		Name: "linear flow",
		Nodes: []*NodeDefinition{
			{ID: "a", Type: "log", NextNodes: []string{"b"}},
			{ID: "b", Type: "log", NextNodes: []string{"c"}},
			{ID: "c", Type: "log"},
		},
	}
}

func TestValidateDefinition_Valid(t *testing.T) {
	require.NoError(t, ValidateDefinition(linearDefinition()))
}

func TestValidateDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		def  *FlowDefinition
	}{
		{
			name: "nil definition",
			def:  nil,
		},
		{
			name: "no nodes",
			def:  &FlowDefinition{Name: "empty"},
		},
		{
			name: "empty node id",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "", Type: "log"},
			}},
		},
		{
			name: "duplicate node id",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "a", Type: "log"},
				{ID: "a", Type: "log"},
			}},
		},
		{
			name: "missing type",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "a"},
			}},
		},
		{
			name: "unknown successor",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "a", Type: "log", NextNodes: []string{"ghost"}},
			}},
		},
		{
			name: "unknown execution mode",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "a", Type: "log", ExecutionMode: "carrier-pigeon"},
			}},
		},
		{
			name: "self cycle",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "a", Type: "log", NextNodes: []string{"a"}},
			}},
		},
		{
			name: "long cycle",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "a", Type: "log", NextNodes: []string{"b"}},
				{ID: "b", Type: "log", Conditions: []ConditionRule{{Condition: "true", NextNodeID: "c"}}},
				{ID: "c", Type: "log", NextNodes: []string{"a"}},
			}},
		},
		{
			name: "manual node without successors",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "m", Type: "gate", ExecutionMode: ExecutionModeManual},
			}},
		},
		{
			name: "manual successors on non-manual node",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "a", Type: "log", ManualNextNodes: []string{"b"}},
				{ID: "b", Type: "log"},
			}},
		},
		{
			name: "mqtt node without topic",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "w", Type: "wait", ExecutionMode: ExecutionModeMQTT},
			}},
		},
		{
			name: "event node without event name",
			def: &FlowDefinition{Nodes: []*NodeDefinition{
				{ID: "w", Type: "wait", ExecutionMode: ExecutionModeEvent, Event: &EventWait{}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDefinition(tt.def)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestValidateDefinition_DiamondIsNotACycle(t *testing.T) {
	def := &FlowDefinition{
		Name: "diamond",
		Nodes: []*NodeDefinition{
			{ID: "a", Type: "log", NextNodes: []string{"b", "c"}},
			{ID: "b", Type: "log", NextNodes: []string{"d"}},
			{ID: "c", Type: "log", NextNodes: []string{"d"}},
			{ID: "d", Type: "log"},
		},
	}

	require.NoError(t, ValidateDefinition(def))
}
