package config

import (
	"dario.cat/mergo"
	"go.openly.dev/pointy"
)

// DeploymentParameters holds the tunables that can be set for every deployment
// through DeploymentDefaults and overridden per deployment.
type DeploymentParameters struct {
	// Excluded is the initial value of the excluded flag when a deployment is first discovered.
	// It is not applied to deployments already known, the operator toggles those.
	Excluded *bool `yaml:"excluded,omitempty"`

	// FullStop is the initial value of the full stop flag when a deployment is first discovered.
	FullStop *bool `yaml:"full_stop,omitempty"`

	// CommandTimeoutSeconds overrides runtime.command_timeout_seconds for this deployment's commands.
	CommandTimeoutSeconds int `validate:"gte=0" yaml:"command_timeout_seconds,omitempty"`
}

// Deployment is an override block for a single deployment.
type Deployment struct {
	DeploymentParameters `yaml:",inline"`

	// Name is the deployment directory name.
	Name string `validate:"required" yaml:"name"`
}

// InitialExcluded returns the excluded flag a newly discovered deployment starts with.
func (p DeploymentParameters) InitialExcluded() bool {
	return pointy.BoolValue(p.Excluded, false)
}

// InitialFullStop returns the full stop flag a newly discovered deployment starts with.
func (p DeploymentParameters) InitialFullStop() bool {
	return pointy.BoolValue(p.FullStop, false)
}

// DeploymentParameters resolves the effective parameters of the named deployment:
// its override block, if any, completed with DeploymentDefaults.
func (c Config) DeploymentParameters(name string) (p DeploymentParameters) {
	for _, d := range c.Deployments {
		if d.Name == name {
			p = d.DeploymentParameters
			break
		}
	}

	// mergo only fills the zero fields of p, explicit overrides win
	if err := mergo.Merge(&p, c.DeploymentDefaults); err != nil {
		return c.DeploymentDefaults
	}

	if p.CommandTimeoutSeconds == 0 {
		p.CommandTimeoutSeconds = c.Runtime.CommandTimeoutSeconds
	}

	return
}
