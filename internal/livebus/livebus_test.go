package livebus

import "testing"

func TestChannelForIncludesSessionID(t *testing.T) {
	got := channelFor("sess-123")
	want := "chat:stream:live:sess-123"
	if got != want {
		t.Errorf("channelFor = %q, want %q", got, want)
	}
}
