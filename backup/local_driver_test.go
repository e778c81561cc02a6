package backup

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalDriver_BackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := NewLocalDriver(dir)

	if err := d.Backup(context.Background(), "kvs", bytes.NewBufferString("payload"), "snap"); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	want := filepath.Join(dir, "cachify", "backups", "kvs-snap.backup")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected backup file at %s: %v", want, err)
	}

	rc, err := d.Restore(context.Background(), "kvs", "snap")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}
}

func TestValidateBasename(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"snap", false},
		{"my-backup_01", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../escape", true},
		{"a/b", true},
		{`a\b`, true},
		{"bad*name", true},
		{"bad?name", true},
		{"bad:name", true},
		{"has\x01control", true},
	}
	for _, tc := range cases {
		err := validateBasename(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("validateBasename(%q) error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestLocalDriver_RejectsPathTraversal(t *testing.T) {
	d := NewLocalDriver(t.TempDir())
	err := d.Backup(context.Background(), "kvs", bytes.NewBufferString("x"), "../../etc/passwd")
	if err == nil {
		t.Fatal("expected validation error for a path-traversal backup name")
	}
}
