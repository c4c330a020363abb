package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandTilde(t *testing.T) {
	tests := []struct {
		name  string
		home  string
		input string
		want  string
	}{
		{"absolute path unchanged", "/home/alice", "/var/tmp/doc.json", "/var/tmp/doc.json"},
		{"relative path unchanged", "/home/alice", "docs", "docs"},
		{"tilde slash expands", "/home/alice", "~/docs/orders.json", "/home/alice/docs/orders.json"},
		{"bare tilde expands", "/home/alice", "~", "/home/alice"},
		{"tilde-user left alone", "/home/alice", "~bob/docs", "~bob/docs"},
		{"empty HOME no expansion", "", "~/docs", "~/docs"},
		{"empty string unchanged", "/home/alice", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", tt.home)
			assert.Equal(t, tt.want, ExpandTilde(tt.input))
		})
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("HOME", "/home/alice")
	t.Setenv("SCHEMADOC_ROOT", "/srv/schemadoc")

	tests := []struct {
		input string
		want  string
	}{
		{"$SCHEMADOC_ROOT/audit.db", "/srv/schemadoc/audit.db"},
		{"${SCHEMADOC_ROOT}/tmp", "/srv/schemadoc/tmp"},
		{"~/audit.db", "/home/alice/audit.db"},
		{"$HOME/audit.db", "/home/alice/audit.db"},
		{"/plain", "/plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Expand(tt.input), "Expand(%q)", tt.input)
	}
}
