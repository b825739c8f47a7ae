package models

// Dependency is a directed edge: TaskName cannot be worked on until
// DependsOnTaskName is completed.
type Dependency struct {
	TaskName          string `json:"task_name"`
	DependsOnTaskName string `json:"depends_on_task_name"`
}
