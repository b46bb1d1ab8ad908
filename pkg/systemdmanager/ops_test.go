package systemdmanager

import "testing"

func TestParseOp(t *testing.T) {
	cases := map[string]Op{"": OpRestart, "Start": OpStart, " stop ": OpStop, "restart": OpRestart}
	for in, want := range cases {
		got, err := ParseOp(in)
		if err != nil || got != want {
			t.Fatalf("ParseOp(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseOp("reload"); err == nil {
		t.Fatalf("expected error for reload")
	}
}

func TestUnitName(t *testing.T) {
	cases := map[string]string{
		"nginx":          "nginx.service",
		"backup.timer":   "backup.timer",
		"app.v2":         "app.v2.service",
		" sshd.service ": "sshd.service",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestJobResult(t *testing.T) {
	if err := jobResult(OpStart, "a.service", "done"); err != nil {
		t.Fatalf("done should be nil, got %v", err)
	}
	if err := jobResult(OpStart, "a.service", "failed"); err == nil || err.Error() != "start a.service: job failed" {
		t.Fatalf("unexpected error %v", err)
	}
}
