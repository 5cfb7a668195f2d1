package pipeline

import (
	"errors"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alpha", "alpha"},
		{"Alpha Bot", "alpha-bot"},
		{"my_bot.v2", "my_bot.v2"},
		{"  spaced  ", "spaced"},
		{"weird///name!!", "weird-name"},
		{"--dashes--", "dashes"},
		{"ÜBER bot", "ber-bot"},
	}

	for _, tc := range cases {
		got, err := SanitizeName(tc.in)
		if err != nil {
			t.Fatalf("SanitizeName(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeNameRejectsEmptyResult(t *testing.T) {
	for _, in := range []string{"", "   ", "!!!", "---"} {
		_, err := SanitizeName(in)
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("SanitizeName(%q): expected ErrInvalidName, got %v", in, err)
		}
	}
}
