package pipeline

import "time"

const (
	testTimeout = 5 * time.Second
	testTick    = time.Millisecond
)
