package models

import (
	"math"
	"time"
)

type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// BackoffPolicy defines exponential backoff parameters for job retries.
type BackoffPolicy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// NextDelay returns the delay for a given attempt (1-based) with clamping.
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2
	}

	delay := float64(p.Base) * math.Pow(p.Factor, float64(attempt-1))
	d := time.Duration(delay)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Job is one queued unit of work. The ID embeds the trigger timestamp, so a
// second scheduler tick always produces a new id instead of colliding with
// the first.
type Job struct {
	Queue        string
	Name         string
	ID           string
	Payload      string
	Delay        time.Duration
	Attempts     int
	AttemptsMade int
	Backoff      BackoffPolicy
	State        JobState
	LastError    string
	EnqueuedAt   time.Time
	ReadyAt      time.Time
}
