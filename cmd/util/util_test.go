package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/infinity/lib/notice"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line longer than %d: %q", Wrap, line)
		}
	}
	if got := WrapString("short text"); got != "short text" {
		t.Errorf("WrapString() = %q", got)
	}
}

func TestParseParticipants(t *testing.T) {
	got, err := ParseParticipants("*urn:test:alice, urn:test:bob?,,urn:test:carol")
	if err != nil {
		t.Fatalf("ParseParticipants() error = %v", err)
	}
	want := []notice.Participant{
		{Identity: "urn:test:alice", Leader: true, Confirmed: true},
		{Identity: "urn:test:bob"},
		{Identity: "urn:test:carol", Confirmed: true},
	}
	if len(got) != len(want) {
		t.Fatalf("ParseParticipants() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("participant %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if _, err := ParseParticipants("alice"); err == nil {
		t.Error("ParseParticipants(alice) expected an error")
	}
}

func TestParseDate(t *testing.T) {
	if _, err := ParseDate("now"); err != nil {
		t.Errorf("ParseDate(now) error = %v", err)
	}
	d, err := ParseDate("2024-03-01T12:00:00Z")
	if err != nil || d.Year() != 2024 {
		t.Errorf("ParseDate() = %v, %v", d, err)
	}
	if _, err := ParseDate("yesterday"); err == nil {
		t.Error("ParseDate(yesterday) expected an error")
	}
}
