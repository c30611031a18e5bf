package gitops

import "testing"

func TestBranchName(t *testing.T) {
	if got := BranchName("PROJ-42"); got != "ticketflow/PROJ-42" {
		t.Errorf("BranchName() = %q", got)
	}
}

func TestPRNumberFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"https://github.com/acme/app/pull/17", 17},
		{"https://github.com/acme/app/pull/17/", 17},
		{"https://github.com/acme/app/pull/abc", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := prNumberFromURL(tt.url); got != tt.want {
			t.Errorf("prNumberFromURL(%q) = %d, want %d", tt.url, got, tt.want)
		}
	}
}
