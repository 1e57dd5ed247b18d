package expansion

import (
	"strings"
	"testing"
)

func TestHashIsOrderIndependent(t *testing.T) {
	a := Hash([]string{"A", "B", "C"})
	b := Hash([]string{"C", "A", "B"})
	if a != b {
		t.Errorf("Hash order-dependent: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("Hash length = %d, want 16", len(a))
	}
}

func TestHashDistinguishesCodeSets(t *testing.T) {
	if Hash([]string{"A", "B"}) == Hash([]string{"A", "C"}) {
		t.Error("different code sets produced the same hash")
	}
	// Joining with a separator keeps ["AB"] and ["A","B"] apart.
	if Hash([]string{"AB"}) == Hash([]string{"A", "B"}) {
		t.Error("concatenation collision")
	}
}

func TestIDIsPure(t *testing.T) {
	hash := Hash([]string{"73211009"})

	first := ID("report-1", 0, hash)
	second := ID("report-1", 0, hash)
	if first != second {
		t.Errorf("ID not deterministic: %q vs %q", first, second)
	}

	if ID("report-2", 0, hash) == first {
		t.Error("changing the report id did not change the ID")
	}
	if ID("report-1", 1, hash) == first {
		t.Error("changing the index did not change the ID")
	}
	if ID("report-1", 0, Hash([]string{"44054006"})) == first {
		t.Error("changing the hash did not change the ID")
	}
}

func TestFriendlyNameShortensKeywords(t *testing.T) {
	tests := []struct {
		name  string
		index int
		want  string
	}{
		{"On Diabetes Register", 0, "on_dm_reg_vs1"},
		{"Hypertension Monitoring", 1, "htn_monitor_vs2"},
		{"Chronic Kidney Disease Screening", 0, "ckd_screen_vs1"},
		{"Chronic obstructive pulmonary disease [COPD] register", 2, "copd_reg_vs3"},
		{"Priority Group 3 Review", 0, "pg3_review_vs1"},
	}

	for _, tt := range tests {
		if got := FriendlyName(tt.name, tt.index); got != tt.want {
			t.Errorf("FriendlyName(%q, %d) = %q, want %q", tt.name, tt.index, got, tt.want)
		}
	}
}

func TestFriendlyNameKeepsParenthesesContent(t *testing.T) {
	got := FriendlyName("Diabetes (type 2) register", 0)
	if got != "dm_type_2_reg_vs1" {
		t.Errorf("FriendlyName() = %q, want dm_type_2_reg_vs1", got)
	}
}

func TestFriendlyNameCapsLength(t *testing.T) {
	long := strings.Repeat("verylongword ", 20)
	got := FriendlyName(long, 0)
	// 60 characters of slug plus the positional suffix.
	if len(got) > 60+len("_vs1") {
		t.Errorf("FriendlyName() length = %d: %q", len(got), got)
	}
	if !strings.HasSuffix(got, "_vs1") {
		t.Errorf("FriendlyName() = %q, want _vs1 suffix", got)
	}
}

func TestFriendlyNameIsDeterministic(t *testing.T) {
	name := "Chronic kidney disease long term condition register"
	first := FriendlyName(name, 0)
	for i := 0; i < 10; i++ {
		if got := FriendlyName(name, 0); got != first {
			t.Fatalf("FriendlyName not deterministic: %q vs %q", got, first)
		}
	}
}

func TestFormatForSQL(t *testing.T) {
	got := FormatForSQL([]string{"73211009", "44054006"})
	if got != "'73211009', '44054006'" {
		t.Errorf("FormatForSQL() = %q", got)
	}
	if got := FormatForSQL(nil); got != "" {
		t.Errorf("FormatForSQL(nil) = %q, want empty", got)
	}
}

func TestSQLInClause(t *testing.T) {
	got := SQLInClause([]string{"100", "200"}, "snomed_code")
	if got != "WHERE snomed_code IN ('100', '200')" {
		t.Errorf("SQLInClause() = %q", got)
	}
	if got := SQLInClause([]string{"100"}, ""); got != "WHERE code IN ('100')" {
		t.Errorf("SQLInClause() with default column = %q", got)
	}
}
