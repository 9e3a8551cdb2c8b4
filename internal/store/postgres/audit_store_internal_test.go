package postgres

import (
	"testing"
	"time"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

func TestBuildListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		opts     domain.ListOpts
		want     string
		wantArgs int
	}{
		{
			name: "no filters",
			want: "SELECT id, event, username, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC",
		},
		{
			name:     "user and page",
			opts:     domain.ListOpts{Username: "alice", Limit: 10, Offset: 20},
			want:     "SELECT id, event, username, detail, created_at FROM audit_log WHERE username = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
			wantArgs: 3,
		},
		{
			name:     "since and event",
			opts:     domain.ListOpts{Since: &since, Event: "bought"},
			want:     "SELECT id, event, username, detail, created_at FROM audit_log WHERE created_at >= $1 AND event = $2 ORDER BY created_at DESC, id DESC",
			wantArgs: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := buildListQuery(tt.opts)
			if got != tt.want {
				t.Errorf("query = %q\nwant    %q", got, tt.want)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("len(args) = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames() error = %v", err)
	}
	if len(names) < 2 || names[0] != "001_audit_log.sql" {
		t.Errorf("migrationNames() = %v", names)
	}
}
