package notify

import (
	"context"
	"errors"
	"testing"

	logx "crewcall/pkg/logx"
)

func TestFanoutIndependentOutcomes(t *testing.T) {
	s := New(Config{RatePerSec: 1000}, logx.Nop())

	boom := errors.New("smtp down")
	s.Register(ChannelEmail, SenderFunc(func(ctx context.Context, userID, title, body string, meta map[string]string) (bool, error) {
		return false, boom
	}))
	var pushed int
	s.Register(ChannelPush, SenderFunc(func(ctx context.Context, userID, title, body string, meta map[string]string) (bool, error) {
		pushed++
		return true, nil
	}))

	rs := s.Fanout(context.Background(), []Channel{ChannelEmail, ChannelPush}, Message{UserID: "alice", Title: "t"})
	if len(rs) != 2 {
		t.Fatalf("results = %d, want 2", len(rs))
	}
	if pushed != 1 {
		t.Fatal("email failure must not stop the push channel")
	}
	if !Delivered(rs) {
		t.Fatal("one delivered channel must mark the fanout delivered")
	}
	if !errors.Is(FirstErr(rs), boom) {
		t.Fatalf("FirstErr = %v, want smtp error", FirstErr(rs))
	}
}

func TestSendWithoutSender(t *testing.T) {
	s := New(Config{}, logx.Nop())
	r := s.Send(context.Background(), ChannelSMS, Message{UserID: "alice"})
	if !errors.Is(r.Err, ErrNoSender) {
		t.Fatalf("err = %v, want ErrNoSender", r.Err)
	}
	if Delivered([]Result{r}) {
		t.Fatal("missing sender must not count as delivered")
	}
}

func TestParseChannels(t *testing.T) {
	got := ParseChannels([]string{" Push ", "EMAIL", "fax", "sms"})
	want := []Channel{ChannelPush, ChannelEmail, ChannelSMS}
	if len(got) != len(want) {
		t.Fatalf("channels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("channels = %v, want %v", got, want)
		}
	}

	if _, err := ParseChannel("fax"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("err = %v, want ErrUnknownChannel", err)
	}
}
