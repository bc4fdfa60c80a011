// Package inverter declares the capability set the DPL consumes from the
// micro-inverter radio stack. The radio stack itself — discovery, framing,
// retries over the air — is an external collaborator and out of scope; this
// package only names the interface the control core is built against.
package inverter

// ControlMode selects absolute-watts or relative (percentage) power control
// when issuing a limit.
type ControlMode int

const (
	Absolute ControlMode = iota
	Relative
)

// ChannelField identifies one per-channel statistic read from an inverter's
// DC channels, e.g. current power or voltage on a given MPPT input.
type ChannelField int

const (
	FieldPowerDC ChannelField = iota
	FieldVoltageDC
)

// Radio is the capability set the DPL and the power-limiter inverter
// abstraction (component F) consume from the inverter radio stack.
type Radio interface {
	Serial() string

	IsReachable() bool
	IsProducing() bool
	SupportsPowerDistributionLogic() bool

	GetMppts() int
	GetChannelsDC() int
	GetChannelsDCByMppt(mppt int) int

	ChannelFieldValue(field ChannelField, channel int) float64

	SendActivePowerControlRequest(watts float64, mode ControlMode) error
	SendPowerControlRequest(on bool) error
	SendRestartRequest() error
}
