package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	ProcessesStarted   metric.Int64Counter
	ProcessesEnded     metric.Int64Counter
	ProcessesRunning   metric.Int64UpDownCounter
	ElementsActivated  metric.Int64Counter
	ElementsCompleted  metric.Int64Counter
	ElementsTerminated metric.Int64Counter
	IncidentsCreated   metric.Int64Counter
	IncidentsResolved  metric.Int64Counter
	JobsCreated        metric.Int64Counter
	JobsCompleted      metric.Int64Counter
	JobsFailed         metric.Int64Counter
	CommandsRejected   metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	processesStartedTotal, err := meter.Int64Counter("processes_started", metric.WithDescription("Number of processes started"))
	errJoin = errors.Join(errJoin, err)

	processesCompletedTotal, err := meter.Int64Counter("processes_completed", metric.WithDescription("Number of processes completed"))
	errJoin = errors.Join(errJoin, err)

	processesRunning, err := meter.Int64UpDownCounter("processes_running", metric.WithDescription("Number of processes currently running"))
	errJoin = errors.Join(errJoin, err)

	elementsActivated, err := meter.Int64Counter("elements_activated", metric.WithDescription("Number of element instances activated"))
	errJoin = errors.Join(errJoin, err)

	elementsCompleted, err := meter.Int64Counter("elements_completed", metric.WithDescription("Number of element instances completed"))
	errJoin = errors.Join(errJoin, err)

	elementsTerminated, err := meter.Int64Counter("elements_terminated", metric.WithDescription("Number of element instances terminated"))
	errJoin = errors.Join(errJoin, err)

	incidentsCreated, err := meter.Int64Counter("incidents_created", metric.WithDescription("Number of incidents created"))
	errJoin = errors.Join(errJoin, err)

	incidentsResolved, err := meter.Int64Counter("incidents_resolved", metric.WithDescription("Number of incidents resolved"))
	errJoin = errors.Join(errJoin, err)

	jobsCreated, err := meter.Int64Counter("jobs_created", metric.WithDescription("Number of jobs created"))
	errJoin = errors.Join(errJoin, err)

	jobsCompleted, err := meter.Int64Counter("jobs_completed", metric.WithDescription("Number of jobs completed"))
	errJoin = errors.Join(errJoin, err)

	jobsFailed, err := meter.Int64Counter("jobs_failed", metric.WithDescription("Number of jobs failed"))
	errJoin = errors.Join(errJoin, err)

	commandsRejected, err := meter.Int64Counter("commands_rejected", metric.WithDescription("Number of commands rejected"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		ProcessesStarted:   processesStartedTotal,
		ProcessesEnded:     processesCompletedTotal,
		ProcessesRunning:   processesRunning,
		ElementsActivated:  elementsActivated,
		ElementsCompleted:  elementsCompleted,
		ElementsTerminated: elementsTerminated,
		IncidentsCreated:   incidentsCreated,
		IncidentsResolved:  incidentsResolved,
		JobsCreated:        jobsCreated,
		JobsCompleted:      jobsCompleted,
		JobsFailed:         jobsFailed,
		CommandsRejected:   commandsRejected,
	}
	return &metrics, errJoin
}
