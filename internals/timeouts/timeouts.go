package timeouts

import "time"

const (
	HealthPoll    = 200 * time.Millisecond
	HealthTimeout = 10 * time.Second
	SchedulerTick = 60 * time.Second
	SecondDefault = 10 * time.Second
	ShutdownGrace = 5 * time.Second
	StoreWrite    = 5 * time.Second
)
