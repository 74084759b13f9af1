package service

import "time"

// Timer is a pending scheduled transition.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.  Machines track the returned Timer so that
// Close can cancel it.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WallScheduler fires on real time via time.AfterFunc.
var WallScheduler Scheduler = wallScheduler{}
