package state

// MediaState is the orchestrator's view of what the theater is doing.
type MediaState uint8

const (
	Off MediaState = iota
	WaitForAudio
	Playing
	Watching
	SwitchingOff
	Booting
)

var mediaStateNames = [...]string{
	Off:          "Off",
	WaitForAudio: "WaitForAudio",
	Playing:      "Playing",
	Watching:     "Watching",
	SwitchingOff: "SwitchingOff",
	Booting:      "Booting",
}

func (m MediaState) String() string {
	if int(m) < len(mediaStateNames) {
		return mediaStateNames[m]
	}
	return "Invalid"
}

// InitialMediaState picks the start state from the AVR outlet reading.
// An unreadable outlet is treated as powered so the AVR gets inspected.
func InitialMediaState(avrPowered bool, err error) MediaState {
	if err != nil || avrPowered {
		return Booting
	}
	return Off
}
