package reasonclient

import "github.com/zoobzio/capitan"

// Breaker transition signals.
var (
	BreakerOpened = capitan.NewSignal("reasonclient.breaker.opened", "")
	BreakerClosed = capitan.NewSignal("reasonclient.breaker.closed", "")
)

var (
	BaseURLKey   = capitan.NewStringKey("reasonclient.base_url")
	FailCountKey = capitan.NewIntKey("reasonclient.fail_count")
	OpenForMsKey = capitan.NewIntKey("reasonclient.open_for.ms")
	LastErrorKey = capitan.NewStringKey("reasonclient.error")
)
