package models

import (
	"errors"
	"fmt"
)

// ErrInvalidDefinition is the sentinel wrapped by every definition
// validation failure.
var ErrInvalidDefinition = errors.New("invalid flow definition")

// ValidateDefinition checks a flow definition before the flow is allowed to
// enter running. Malformed definitions never start; there is no runtime
// protection against non-terminating graphs.
func ValidateDefinition(def *FlowDefinition) error {
	if def == nil || len(def.Nodes) == 0 {
		return fmt.Errorf("%w: definition has no nodes", ErrInvalidDefinition)
	}

	byID := make(map[string]*NodeDefinition, len(def.Nodes))

	for _, node := range def.Nodes {
		if node.ID == "" {
			return fmt.Errorf("%w: found node with empty ID", ErrInvalidDefinition)
		}

		if _, exists := byID[node.ID]; exists {
			return fmt.Errorf("%w: duplicate node ID %q", ErrInvalidDefinition, node.ID)
		}

		if node.Type == "" {
			return fmt.Errorf("%w: node %q has no type", ErrInvalidDefinition, node.ID)
		}

		byID[node.ID] = node
	}

	for _, node := range def.Nodes {
		if err := validateNode(node, byID); err != nil {
			return err
		}
	}

	if cycle := findCycle(def.Nodes, byID); cycle != "" {
		return fmt.Errorf("%w: graph contains a cycle through node %q", ErrInvalidDefinition, cycle)
	}

	return nil
}

func validateNode(node *NodeDefinition, byID map[string]*NodeDefinition) error {
	if !node.ExecutionMode.IsValid() {
		return fmt.Errorf("%w: node %q has unknown execution mode %q", ErrInvalidDefinition, node.ID, node.ExecutionMode)
	}

	for _, target := range node.Successors() {
		if _, exists := byID[target]; !exists {
			return fmt.Errorf("%w: node %q references unknown successor %q", ErrInvalidDefinition, node.ID, target)
		}
	}

	if node.ExecutionMode.IsManual() && len(node.ManualNextNodes) == 0 && len(node.NextNodes) == 0 {
		return fmt.Errorf("%w: manual node %q declares no successors", ErrInvalidDefinition, node.ID)
	}

	if !node.ExecutionMode.IsManual() && len(node.ManualNextNodes) > 0 {
		return fmt.Errorf("%w: node %q declares manual_next_nodes but is not a manual node", ErrInvalidDefinition, node.ID)
	}

	switch node.ExecutionMode {
	case ExecutionModeMQTT:
		if node.MQTT == nil || node.MQTT.Topic == "" {
			return fmt.Errorf("%w: mqtt node %q has no topic", ErrInvalidDefinition, node.ID)
		}
	case ExecutionModeEvent:
		if node.Event == nil || node.Event.EventName == "" {
			return fmt.Errorf("%w: event node %q has no event name", ErrInvalidDefinition, node.ID)
		}
	}

	return nil
}

// findCycle runs a three-color DFS over the successor graph and returns the
// ID of a node on a cycle, or "".
func findCycle(nodes []*NodeDefinition, byID map[string]*NodeDefinition) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(nodes))

	var visit func(id string) string

	visit = func(id string) string {
		color[id] = gray

		for _, next := range byID[id].Successors() {
			switch color[next] {
			case gray:
				return next
			case white:
				if hit := visit(next); hit != "" {
					return hit
				}
			}
		}

		color[id] = black

		return ""
	}

	for _, node := range nodes {
		if color[node.ID] == white {
			if hit := visit(node.ID); hit != "" {
				return hit
			}
		}
	}

	return ""
}
