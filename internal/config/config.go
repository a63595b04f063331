package config

import (
	"github.com/flowline-dev/flowline/internal/admission"
)

// Config is the root configuration for flowline.
type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Events       EventsConfig       `json:"events"`
	Board        BoardConfig        `json:"board"`
	Collaborator CollaboratorConfig `json:"collaborator"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// BoardConfig holds the global defaults for WIP limits, automation
// triggers, and queue processing. Workspaces may override any field.
type BoardConfig struct {
	Limits     admission.Limits `json:"limits"`
	Automation AutomationConfig `json:"automation"`
	// QueueEnabled gates queue processing entirely; nil means enabled.
	QueueEnabled *bool `json:"queue_enabled,omitempty"`
}

// AutomationConfig holds the global automation trigger defaults.
type AutomationConfig struct {
	// PromoteOnPlanReady moves a backlog task to ready as soon as its plan
	// is generated. Capacity denials are absorbed, not queued.
	PromoteOnPlanReady bool `json:"promote_on_plan_ready"`
	// AutoExecute lets the queue manager start ready tasks autonomously.
	AutoExecute bool `json:"auto_execute"`
}

// CollaboratorConfig points at the external execution and planning
// collaborators. Both are opaque commands bridged over stdin/stdout.
type CollaboratorConfig struct {
	ExecuteCommand []string `json:"execute_command,omitempty"`
	PlanCommand    []string `json:"plan_command,omitempty"`
}

// QueueProcessingEnabled resolves the nullable QueueEnabled flag.
func (b BoardConfig) QueueProcessingEnabled() bool {
	return b.QueueEnabled == nil || *b.QueueEnabled
}
