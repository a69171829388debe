package catalogue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCatalogueFile(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogue.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write catalogue fixture: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "valid catalogue",
			content: `{"cut": {"m1": 5, "m2": 3}, "weld": {"m3": 8}}`,
		},
		{
			name:    "empty catalogue",
			content: `{}`,
		},
		{
			name:    "negative duration rejected",
			content: `{"cut": {"m1": -1}}`,
			wantErr: true,
		},
		{
			name:    "non-integer duration rejected",
			content: `{"cut": {"m1": "fast"}}`,
			wantErr: true,
		},
		{
			name:    "malformed JSON rejected",
			content: `{"cut": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCatalogueFile(t, tt.content)
			cat, err := Load(path, nil, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			defer cat.Close()
		})
	}
}

func TestValidate_AcceptsValidRejectsNegativeDuration(t *testing.T) {
	path := writeCatalogueFile(t, `{"cut": {"m1": 5}}`)
	if err := Validate(path); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := Validate(writeCatalogueFile(t, `{"cut": {"m1": -5}}`)); err == nil {
		t.Fatal("expected Validate to reject a negative duration")
	}
}

func TestSnapshot_DurationAndEligibleMachines(t *testing.T) {
	path := writeCatalogueFile(t, `{"cut": {"m1": 5, "m2": 0}, "weld": {"m3": 8}}`)
	cat, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer cat.Close()

	snap := cat.Current()

	if d, ok := snap.Duration("cut", "m1"); !ok || d != 5 {
		t.Errorf("expected cut/m1 duration 5, got %d ok=%v", d, ok)
	}
	if _, ok := snap.Duration("cut", "m2"); ok {
		t.Error("expected cut/m2 to be ineligible (zero duration)")
	}
	if _, ok := snap.Duration("cut", "unknown"); ok {
		t.Error("expected unknown machine to be ineligible")
	}

	eligible := snap.EligibleMachines("cut", []string{"m1", "m2", "m3"})
	if len(eligible) != 1 || eligible[0] != "m1" {
		t.Errorf("expected only m1 eligible, got %v", eligible)
	}

	if snap.MachineCount("cut") != 2 {
		t.Errorf("expected 2 machines loaded for cut (including the zero-duration one), got %d", snap.MachineCount("cut"))
	}

	durations := snap.Durations([]string{"cut", "weld", "missing"})
	if len(durations) != 2 {
		t.Errorf("expected 2 base names copied, got %d", len(durations))
	}
}

func TestWatchForChanges_ReloadsOnWrite(t *testing.T) {
	path := writeCatalogueFile(t, `{"cut": {"m1": 5}}`)
	cat, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer cat.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cat.WatchForChanges(ctx); err != nil {
		t.Fatalf("WatchForChanges: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"cut": {"m1": 9}}`), 0o644); err != nil {
		t.Fatalf("rewrite catalogue fixture: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d, ok := cat.Current().Duration("cut", "m1"); ok && d == 9 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("catalogue did not reload the updated duration in time")
}

func TestWatchForChanges_KeepsPreviousSnapshotOnBadReload(t *testing.T) {
	path := writeCatalogueFile(t, `{"cut": {"m1": 5}}`)
	cat, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer cat.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cat.WatchForChanges(ctx); err != nil {
		t.Fatalf("WatchForChanges: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"cut": {"m1": -1}}`), 0o644); err != nil {
		t.Fatalf("rewrite catalogue fixture: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if d, ok := cat.Current().Duration("cut", "m1"); !ok || d != 5 {
		t.Errorf("expected the previous good snapshot to still be served, got duration=%d ok=%v", d, ok)
	}
}
