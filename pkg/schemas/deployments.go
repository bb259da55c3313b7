package schemas

import (
	"sort"
)

// DeploymentStatus is the live state reported for a deployment during discovery.
type DeploymentStatus string

const (
	// DeploymentStatusRunning means at least one container of the deployment is up.
	DeploymentStatusRunning DeploymentStatus = "running"

	// DeploymentStatusStopped means the runtime reported no running containers.
	DeploymentStatusStopped DeploymentStatus = "stopped"

	// DeploymentStatusError means the runtime could not be queried for this deployment.
	DeploymentStatusError DeploymentStatus = "error"
)

// DeploymentSettings holds the persisted, operator controlled flags of a deployment.
// The name is the directory name under the projects root and the only join key
// between the registry, the executor and the run logs.
type DeploymentSettings struct {
	Name     string `json:"name" msgpack:"name"`           // Directory name, unique
	Path     string `json:"path" msgpack:"path"`           // Absolute path of the deployment directory
	Excluded bool   `json:"excluded" msgpack:"excluded"`   // Excluded deployments are skipped by global runs
	FullStop bool   `json:"full_stop" msgpack:"full_stop"` // FullStop stops and removes all containers before recreating them
}

// DeploymentKey is the key used to index deployments in the store.
type DeploymentKey string

// Key returns the store key of the deployment.
func (d DeploymentSettings) Key() DeploymentKey {
	return DeploymentKey(d.Name)
}

// Deployments is a map of deployment settings indexed by their key.
type Deployments map[DeploymentKey]DeploymentSettings

// Sorted returns the deployments ordered by name, which is the order global runs use.
func (d Deployments) Sorted() []DeploymentSettings {
	out := make([]DeploymentSettings, 0, len(d))
	for _, ds := range d {
		out = append(out, ds)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out
}

// DeploymentView is what discovery reports for a deployment: its settings plus live state.
type DeploymentView struct {
	Name       string           `json:"name"`
	Path       string           `json:"path"`
	Status     DeploymentStatus `json:"status"`
	Containers int              `json:"containers"`
	Excluded   bool             `json:"excluded"`
	FullStop   bool             `json:"full_stop"`
}
