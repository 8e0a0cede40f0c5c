package model

import "testing"

func TestLevelPermits(t *testing.T) {
	tests := []struct {
		grant    Level
		required Level
		want     bool
	}{
		{LevelAll, LevelDeleteFolder, true},
		{LevelAll, LevelView, true},
		{LevelNone, LevelView, false},
		{LevelEdit, LevelEdit, true},
		{LevelEdit, LevelDelete, false},
		{LevelDelete, LevelUpload, true},
		{LevelCreateFolder, LevelDeleteFolder, true},
		{LevelDeleteFolder, LevelCreateFolder, false},
	}
	for _, tt := range tests {
		if got := tt.grant.Permits(tt.required); got != tt.want {
			t.Errorf("%s.Permits(%s) = %v, want %v", tt.grant, tt.required, got, tt.want)
		}
	}
}

func TestParseLevelRoundTrip(t *testing.T) {
	for _, l := range []Level{
		LevelNone, LevelView, LevelDownload, LevelUpload, LevelEdit,
		LevelDelete, LevelDeleteFolder, LevelCreateFolder, LevelAll,
	} {
		parsed, err := ParseLevel(l.String())
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", l.String(), err)
		}
		if parsed != l {
			t.Errorf("ParseLevel(%q) = %v, want %v", l.String(), parsed, l)
		}
	}

	if _, err := ParseLevel("supreme"); err == nil {
		t.Error("expected error for unknown level name")
	}

	if got := Level(42).String(); got != "level(42)" {
		t.Errorf("unknown level String() = %q, want level(42)", got)
	}
}
