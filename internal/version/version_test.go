package version

import "testing"

func TestStringReflectsBuildVersion(t *testing.T) {
	cleanup := ForTesting("1.2.3-test")
	t.Cleanup(cleanup)

	if got := String(); got != "1.2.3-test" {
		t.Fatalf("expected version 1.2.3-test, got %s", got)
	}
}

func TestFormatVersion(t *testing.T) {
	tests := map[string]string{
		"":       "",
		"dev":    "dev",
		"0.3.0":  "v0.3.0",
		"v1.0.0": "v1.0.0",
	}
	for in, want := range tests {
		if got := FormatVersion(in); got != want {
			t.Fatalf("FormatVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
