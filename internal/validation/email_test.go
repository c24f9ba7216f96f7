package validation

import (
	"strings"
	"testing"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{name: "simple", email: "worker@example.com", want: true},
		{name: "dots in local part", email: "first.last@example.com", want: true},
		{name: "subdomain", email: "a@mail.example.co.uk", want: true},
		{name: "plus tag", email: "worker+tag@example.com", want: true},
		{name: "empty", email: "", want: false},
		{name: "no at", email: "worker.example.com", want: false},
		{name: "no local part", email: "@example.com", want: false},
		{name: "no domain", email: "worker@", want: false},
		{name: "domain without dot", email: "worker@localhost", want: false},
		{name: "dot at domain end", email: "worker@example.", want: false},
		{name: "space in local part", email: "wor ker@example.com", want: false},
		{name: "space in domain", email: "worker@exa mple.com", want: false},
		{name: "double at in domain", email: "worker@ex@ample.com", want: false},
		{name: "too long", email: strings.Repeat("a", 250) + "@x.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidEmail(tt.email); got != tt.want {
				t.Errorf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}
