package schemas

// TaskType represents the type of task as a string.
type TaskType string

const (
	// TaskTypeDispatch runs whatever a fired schedule designates.
	TaskTypeDispatch TaskType = "Dispatch"

	// TaskTypeUpdateDeployment updates a single deployment on demand, in the background.
	TaskTypeUpdateDeployment TaskType = "UpdateDeployment"
)

// Tasks is a map structure used to keep track of queued tasks.
// It maps a TaskType to another map, which associates task identifiers with empty interfaces.
type Tasks map[TaskType]map[string]interface{}
