package store

import "testing"

func TestStripNullBytes(t *testing.T) {
	got := stripNullBytes("hello\x00world\x00")
	if got != "helloworld" {
		t.Errorf("stripNullBytes = %q, want %q", got, "helloworld")
	}
}

func TestStripNullBytesNoOp(t *testing.T) {
	got := stripNullBytes("plain text")
	if got != "plain text" {
		t.Errorf("stripNullBytes = %q, want unchanged", got)
	}
}
