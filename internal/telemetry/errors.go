package telemetry

import "errors"

var (
	// ErrDisabled is returned by Connect when [influxdb] is not enabled.
	ErrDisabled = errors.New("telemetry: influxdb disabled in configuration")

	// ErrConnectionFailed wraps ping failures during Connect.
	ErrConnectionFailed = errors.New("telemetry: influxdb connection failed")
)
