package orchestrator

// Mode is the bot's trading posture. Transitions into a live_* mode are
// two-phase: RequestModeChange only stages the change in PendingLiveMode;
// ConfirmPendingMode is required to apply it.
type Mode string

const (
	ModeCustom   Mode = "custom"
	ModeDemoSafe Mode = "demo_safe"
	ModeLiveSafe Mode = "live_safe"
	ModeLiveAuto Mode = "live_auto"
)

func (m Mode) isLive() bool {
	return m == ModeLiveSafe || m == ModeLiveAuto
}

// autoTradeFor reports whether execution should run unattended in mode:
// live_auto enables it, live_safe explicitly disables it (signals/gates
// still evaluate, but nothing is submitted), custom/demo_safe defer to
// the configured default.
func autoTradeFor(m Mode, configuredDefault bool) bool {
	switch m {
	case ModeLiveAuto:
		return true
	case ModeLiveSafe:
		return false
	default:
		return configuredDefault
	}
}
