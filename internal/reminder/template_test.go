package reminder

import (
	"strings"
	"testing"
)

func TestTierFor(t *testing.T) {
	cases := []struct {
		remaining int
		want      Tier
	}{
		{60, TierHeadsUp},
		{31, TierHeadsUp},
		{30, TierWarning},
		{16, TierWarning},
		{15, TierUrgent},
		{1, TierUrgent},
		{0, TierUrgent},
		{-10, TierUrgent},
	}
	for _, tc := range cases {
		if got := TierFor(tc.remaining, 15, 30); got != tc.want {
			t.Errorf("TierFor(%d) = %s, want %s", tc.remaining, got, tc.want)
		}
	}
}

func TestRenderMessageBuiltins(t *testing.T) {
	title, body := RenderMessage("", "Night Shoot", 10, "09:00", TierUrgent)
	if !strings.Contains(title, "10 min") {
		t.Fatalf("urgent title missing countdown: %q", title)
	}
	if !strings.Contains(body, "09:00") {
		t.Fatalf("urgent body missing deadline: %q", body)
	}

	_, body = RenderMessage("", "Night Shoot", 25, "09:00", TierWarning)
	if !strings.Contains(body, "25 min") {
		t.Fatalf("warning body missing minutes: %q", body)
	}
}

func TestRenderMessageOverdue(t *testing.T) {
	title, body := RenderMessage("", "Night Shoot", -5, "09:00", TierUrgent)
	if strings.Contains(title, "-5") || strings.Contains(body, "-5") {
		t.Fatalf("overdue wording leaked negative minutes: %q / %q", title, body)
	}
	if !strings.Contains(body, "closed") {
		t.Fatalf("overdue body not worded as closed: %q", body)
	}
}

func TestRenderMessageCustomTemplate(t *testing.T) {
	_, body := RenderMessage("Order for {project} by {deadline} ({minutes} min)", "Night Shoot", 12, "09:00", TierWarning)
	want := "Order for Night Shoot by 09:00 (12 min)"
	if body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}
