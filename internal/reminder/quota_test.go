package reminder

import (
	"reflect"
	"testing"

	"crewcall/internal/notify"
	"crewcall/internal/storage"
)

func basePrefs() storage.ReminderPrefs {
	return storage.ReminderPrefs{
		UserID:      "u1",
		Enabled:     true,
		MaxPerDay:   3,
		Channels:    []string{"push"},
		DNDStartMin: -1,
		DNDEndMin:   -1,
	}
}

func TestPlanSkips(t *testing.T) {
	cases := []struct {
		name   string
		mut    func(*storage.ReminderPrefs)
		in     PlanInput
		reason string
	}{
		{
			name:   "disabled",
			mut:    func(p *storage.ReminderPrefs) { p.Enabled = false },
			reason: SkipDisabled,
		},
		{
			name:   "cadence disabled",
			mut:    func(p *storage.ReminderPrefs) { p.DisabledCadences = []string{"every5m"} },
			in:     PlanInput{Cadence: "every5m"},
			reason: SkipCadenceDisabled,
		},
		{
			name: "dnd wrapping midnight at 23:00",
			mut: func(p *storage.ReminderPrefs) {
				p.DNDStartMin = 22 * 60
				p.DNDEndMin = 6 * 60
			},
			in:     PlanInput{NowMin: 23 * 60},
			reason: SkipDoNotDisturb,
		},
		{
			name:   "quota reached",
			mut:    func(p *storage.ReminderPrefs) { p.MaxPerDay = 2 },
			in:     PlanInput{SentToday: 2},
			reason: SkipQuota,
		},
		{
			name:   "quota over",
			mut:    func(p *storage.ReminderPrefs) { p.MaxPerDay = 2 },
			in:     PlanInput{SentToday: 5},
			reason: SkipQuota,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := basePrefs()
			if tc.mut != nil {
				tc.mut(&p)
			}
			in := tc.in
			in.Prefs = p
			d := Plan(in)
			if d.OK {
				t.Fatalf("expected skip, got OK with channels %v", d.Channels)
			}
			if d.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", d.Reason, tc.reason)
			}
		})
	}
}

func TestPlanChannelSelection(t *testing.T) {
	cases := []struct {
		name    string
		user    []string
		project []notify.Channel
		want    []notify.Channel
	}{
		{
			name:    "intersection keeps user priority order",
			user:    []string{"email", "push", "sms"},
			project: []notify.Channel{notify.ChannelPush, notify.ChannelEmail},
			want:    []notify.Channel{notify.ChannelEmail, notify.ChannelPush},
		},
		{
			name:    "empty project set allows all user channels",
			user:    []string{"sms", "email"},
			project: nil,
			want:    []notify.Channel{notify.ChannelSMS, notify.ChannelEmail},
		},
		{
			name:    "empty intersection falls back to default",
			user:    []string{"sms"},
			project: []notify.Channel{notify.ChannelEmail},
			want:    []notify.Channel{notify.ChannelDefault},
		},
		{
			name:    "no user channels falls back to default",
			user:    nil,
			project: []notify.Channel{notify.ChannelEmail},
			want:    []notify.Channel{notify.ChannelDefault},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := basePrefs()
			p.Channels = tc.user
			d := Plan(PlanInput{Prefs: p, ProjectChannels: tc.project, NowMin: 600})
			if !d.OK {
				t.Fatalf("expected OK, got skip %q", d.Reason)
			}
			if !reflect.DeepEqual(d.Channels, tc.want) {
				t.Fatalf("channels = %v, want %v", d.Channels, tc.want)
			}
		})
	}
}

func TestPlanZeroMaxPerDayMeansUnlimited(t *testing.T) {
	p := basePrefs()
	p.MaxPerDay = 0
	d := Plan(PlanInput{Prefs: p, SentToday: 100, NowMin: 600})
	if !d.OK {
		t.Fatalf("expected OK with unlimited quota, got skip %q", d.Reason)
	}
}
