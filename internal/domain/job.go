package domain

import "time"

type Status string

const (
	Queued       Status = "queued"
	Leased       Status = "leased"
	Succeeded    Status = "succeeded"
	DeadLettered Status = "dead_lettered"
)

type BackoffShape string

const (
	BackoffFixed       BackoffShape = "fixed"
	BackoffExponential BackoffShape = "exponential"
)

type Job struct {
	ID             string
	Queue          string
	Type           string
	Payload        []byte
	Attempt        int
	MaxAttempts    int
	Backoff        BackoffShape
	BackoffBase    time.Duration
	RunAt          time.Time
	KeepSucceeded  int
	KeepFailed     int
	Status         Status
	LeasedBy       *string
	LeaseExpiresAt *time.Time
	Error          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether no further transition will happen for this job.
func (j *Job) Terminal() bool {
	return j.Status == Succeeded || j.Status == DeadLettered
}

// LastAttempt reports whether the current attempt is the final one before
// the job is dead-lettered.
func (j *Job) LastAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// RetryDelay returns how long to wait before the next attempt. For the
// exponential shape attempt n waits base * 2^(n-1).
func (j *Job) RetryDelay() time.Duration {
	if j.Backoff == BackoffFixed {
		return j.BackoffBase
	}
	d := j.BackoffBase
	for i := 1; i < j.Attempt; i++ {
		d *= 2
	}
	return d
}
