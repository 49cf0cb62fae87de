package notify

import (
	"errors"
	"strings"
)

var (
	ErrNoSender       = errors.New("no sender registered for channel")
	ErrUnknownChannel = errors.New("unknown channel")
)

// Channel is a closed enumeration of delivery channels.
//
// Keeping it closed (instead of free-form strings) makes channel-selection
// logic exhaustive; ChannelDefault is the safe fallback when a user's
// preferences and a project's enabled channels don't intersect.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"

	ChannelDefault = ChannelPush
)

// ParseChannel normalizes a stored channel string. Unknown values return
// ErrUnknownChannel so bad preference rows surface instead of silently
// selecting nothing.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelPush:
		return ChannelPush, nil
	case ChannelEmail:
		return ChannelEmail, nil
	case ChannelSMS:
		return ChannelSMS, nil
	default:
		return "", ErrUnknownChannel
	}
}

// ParseChannels keeps order and drops unknown entries (callers log them).
func ParseChannels(ss []string) []Channel {
	out := make([]Channel, 0, len(ss))
	for _, s := range ss {
		c, err := ParseChannel(s)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Strings converts back for storage/log rows.
func Strings(cs []Channel) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c))
	}
	return out
}

// Message is one outbound notification.
type Message struct {
	UserID string
	Title  string
	Body   string
	Meta   map[string]string
}

// Result is the per-channel outcome of a fan-out.
type Result struct {
	Channel   Channel
	Delivered bool
	Err       error
}
