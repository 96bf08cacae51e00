package engine

import (
	"log"
	"time"
)

// EventType classifies deployment job events.
type EventType string

const (
	// EventSubmitted indicates a job record was created.
	EventSubmitted EventType = "job.submitted"
	// EventComposed indicates the cloud-init payload and boot script rendered.
	EventComposed EventType = "job.composed"
	// EventDeployAccepted indicates the backend accepted the deploy call.
	EventDeployAccepted EventType = "job.deploy_accepted"
	// EventDeploying indicates the machine was observed installing.
	EventDeploying EventType = "job.deploying"
	// EventCompleted indicates the machine reached deployed.
	EventCompleted EventType = "job.completed"
	// EventFailed indicates the job ended in failure.
	EventFailed EventType = "job.failed"
	// EventCancelled indicates the job was cancelled by an operator.
	EventCancelled EventType = "job.cancelled"
)

// Event is one structured deployment job event. Every event is also
// appended to the job's persistent event log.
type Event struct {
	Type         EventType
	DeploymentID string
	MachineID    string
	Message      string
	Timestamp    time.Time
}

// Observer receives job events as they happen.
type Observer interface {
	Event(event Event)
}

// LogObserver writes events to the standard logger.
type LogObserver struct{}

func (LogObserver) Event(event Event) {
	log.Printf("engine: %s deployment=%s machine=%s %s",
		event.Type, event.DeploymentID, event.MachineID, event.Message)
}
