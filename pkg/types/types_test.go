package types

import "testing"

func TestClassifySeverityPrecedence(t *testing.T) {
	tests := []struct {
		name        string
		days        int
		warningDays int
		want        Severity
		wantTier    bool
	}{
		{"expired well past", -30, 30, SeverityExpired, true},
		{"zero days is expired not critical", 0, 30, SeverityExpired, true},
		{"one day is critical", 1, 30, SeverityCritical, true},
		{"seven days is critical not warning", 7, 30, SeverityCritical, true},
		{"eight days is warning", 8, 30, SeverityWarning, true},
		{"thirty days is warning at default threshold", 30, 30, SeverityWarning, true},
		{"thirty days outside lowered threshold", 30, 20, "", false},
		{"thirty-one days is no tier", 31, 30, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifySeverity(tt.days, tt.warningDays)
			if ok != tt.wantTier {
				t.Fatalf("ClassifySeverity(%d, %d) tier presence = %v, want %v", tt.days, tt.warningDays, ok, tt.wantTier)
			}
			if got != tt.want {
				t.Errorf("ClassifySeverity(%d, %d) = %q, want %q", tt.days, tt.warningDays, got, tt.want)
			}
		})
	}
}

func TestSeverityLevelOrdering(t *testing.T) {
	if !(SeverityExpired.Level() > SeverityCritical.Level() && SeverityCritical.Level() > SeverityWarning.Level()) {
		t.Errorf("severity levels not strictly ordered: expired=%d critical=%d warning=%d",
			SeverityExpired.Level(), SeverityCritical.Level(), SeverityWarning.Level())
	}
	if Severity("").Level() != 0 {
		t.Errorf("empty severity level = %d, want 0", Severity("").Level())
	}
}
