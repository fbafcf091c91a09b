package textnorm

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"CBC", "cbc"},
		{"  Lipid   Panel ", "lipid panel"},
		{"Hémogramme Complet", "hemogramme complet"},
		{"GLYCÉMIE À JEUN", "glycemie a jeun"},
		{"Tab\tand\nnewline", "tab and newline"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_SameKey(t *testing.T) {
	if Normalize("Créatinine") != Normalize("creatinine ") {
		t.Error("expected diacritic-insensitive match")
	}
	if Normalize("TSH") == Normalize("T4") {
		t.Error("expected different names to differ")
	}
}
