package reminder

import (
	"crewcall/internal/notify"
	"crewcall/internal/storage"
)

// Skip reasons recorded on the event bus and in debug logs.
const (
	SkipDisabled        = "reminders_disabled"
	SkipCadenceDisabled = "cadence_disabled"
	SkipDoNotDisturb    = "do_not_disturb"
	SkipQuota           = "quota_exhausted"
)

// PlanInput carries everything the selector needs; it performs no I/O.
type PlanInput struct {
	Prefs           storage.ReminderPrefs
	ProjectChannels []notify.Channel
	Cadence         string
	NowMin          int
	SentToday       int
}

// PlanDecision is the selector's verdict for one participant.
type PlanDecision struct {
	OK       bool
	Reason   string // set when OK is false
	Channels []notify.Channel
}

// Plan decides whether a reminder may be sent right now and through which
// channels. Pure function: the caller supplies today's sent count and the
// current minute of day.
//
// Channel selection is the intersection of project-enabled channels and the
// user's preferred channels, in the user's stated priority order. An empty
// intersection falls back to the default channel so an eligible user is
// never silently skipped.
func Plan(in PlanInput) PlanDecision {
	p := in.Prefs
	if !p.Enabled {
		return PlanDecision{Reason: SkipDisabled}
	}
	for _, c := range p.DisabledCadences {
		if c == in.Cadence {
			return PlanDecision{Reason: SkipCadenceDisabled}
		}
	}
	if InDoNotDisturb(in.NowMin, p.DNDStartMin, p.DNDEndMin) {
		return PlanDecision{Reason: SkipDoNotDisturb}
	}
	if p.MaxPerDay > 0 && in.SentToday >= p.MaxPerDay {
		return PlanDecision{Reason: SkipQuota}
	}

	enabled := map[notify.Channel]bool{}
	for _, c := range in.ProjectChannels {
		enabled[c] = true
	}

	var channels []notify.Channel
	for _, c := range notify.ParseChannels(p.Channels) {
		if len(enabled) == 0 || enabled[c] {
			channels = append(channels, c)
		}
	}
	if len(channels) == 0 {
		channels = []notify.Channel{notify.ChannelDefault}
	}
	return PlanDecision{OK: true, Channels: channels}
}
