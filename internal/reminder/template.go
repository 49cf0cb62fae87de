package reminder

import (
	"fmt"
	"strings"
)

// Tier is the urgency class of a reminder message.
type Tier string

const (
	TierHeadsUp Tier = "heads_up"
	TierWarning Tier = "warning"
	TierUrgent  Tier = "urgent"
)

// TierFor selects the message tier from the minutes remaining until the
// deadline. Negative remaining (already past) is urgent by definition.
func TierFor(remainingMin, urgentBelow, warningBelow int) Tier {
	switch {
	case remainingMin <= urgentBelow:
		return TierUrgent
	case remainingMin <= warningBelow:
		return TierWarning
	default:
		return TierHeadsUp
	}
}

// RenderMessage builds the reminder title/body for a project.
//
// A project may carry a custom template with {project}, {minutes} and
// {deadline} placeholders; otherwise a built-in wording per tier is used.
// When the deadline has already passed the body is worded as overdue, not
// with a negative minute count.
func RenderMessage(tmpl, projectName string, remainingMin int, deadline string, tier Tier) (title, body string) {
	if strings.TrimSpace(tmpl) != "" {
		r := strings.NewReplacer(
			"{project}", projectName,
			"{minutes}", fmt.Sprintf("%d", remainingMin),
			"{deadline}", deadline,
		)
		return projectName, r.Replace(tmpl)
	}

	if remainingMin < 0 {
		return fmt.Sprintf("%s: order window closed", projectName),
			fmt.Sprintf("The order window for %s closed at %s and we have no order from you yet. Order now if the kitchen can still take it.", projectName, deadline)
	}

	switch tier {
	case TierUrgent:
		title = fmt.Sprintf("%s: order closes in %d min", projectName, remainingMin)
		body = fmt.Sprintf("Last call: the order window for %s closes at %s. Place your order now.", projectName, deadline)
	case TierWarning:
		title = fmt.Sprintf("%s: order closes soon", projectName)
		body = fmt.Sprintf("The order window for %s closes at %s (%d min left). Don't forget to order.", projectName, deadline, remainingMin)
	default:
		title = fmt.Sprintf("%s: order window open", projectName)
		body = fmt.Sprintf("You haven't ordered for %s yet. The window closes at %s.", projectName, deadline)
	}
	return title, body
}
