package models

type Platform string

const (
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformYoutube   Platform = "youtube"
	PlatformX         Platform = "x"
	PlatformTelegram  Platform = "telegram_channel"
	PlatformReddit    Platform = "reddit"
)

// Platforms is the fixed dispatch order. Adding a network means appending here,
// adding a <platform>_status column, and registering a publisher.
var Platforms = []Platform{
	PlatformLinkedIn,
	PlatformInstagram,
	PlatformFacebook,
	PlatformYoutube,
	PlatformX,
	PlatformTelegram,
	PlatformReddit,
}

var platformNames = map[Platform]string{
	PlatformLinkedIn:  "LinkedIn",
	PlatformInstagram: "Instagram",
	PlatformFacebook:  "Facebook",
	PlatformYoutube:   "YouTube",
	PlatformX:         "X",
	PlatformTelegram:  "Telegram",
	PlatformReddit:    "Reddit",
}

func (p Platform) DisplayName() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return string(p)
}

// Column is the store column holding this platform's status.
func (p Platform) Column() string {
	return string(p) + "_status"
}

type PlatformStatus string

const (
	PlatformStatusPending PlatformStatus = "PENDING"
	PlatformStatusSuccess PlatformStatus = "SUCCESS"
	PlatformStatusFailed  PlatformStatus = "FAILED"
	PlatformStatusSkipped PlatformStatus = "SKIPPED"
)

// PlatformStatuses maps each platform to its outcome. Missing entries read as PENDING.
type PlatformStatuses map[Platform]PlatformStatus

func NewPlatformStatuses() PlatformStatuses {
	ps := make(PlatformStatuses, len(Platforms))
	for _, p := range Platforms {
		ps[p] = PlatformStatusPending
	}
	return ps
}

func (ps PlatformStatuses) Get(p Platform) PlatformStatus {
	if s, ok := ps[p]; ok && s != "" {
		return s
	}
	return PlatformStatusPending
}

func (ps PlatformStatuses) Count(status PlatformStatus) int {
	n := 0
	for _, p := range Platforms {
		if ps.Get(p) == status {
			n++
		}
	}
	return n
}

// Clone returns a full copy keyed by every known platform.
func (ps PlatformStatuses) Clone() PlatformStatuses {
	out := make(PlatformStatuses, len(Platforms))
	for _, p := range Platforms {
		out[p] = ps.Get(p)
	}
	return out
}
