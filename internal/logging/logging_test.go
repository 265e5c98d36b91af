package logging

import "testing"

func TestNewBuildsProdAndDevLoggers(t *testing.T) {
	for _, mode := range []string{"prod", "dev", ""} {
		z, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		if z == nil {
			t.Fatalf("New(%q) returned nil logger", mode)
		}
		z.Sugar().Infow("logging self-test", "mode", mode)
	}
}

func TestLogrWrapsZapWithoutPanicking(t *testing.T) {
	z, err := New("dev")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l := Logr(z)
	l.Info("logr bridge self-test")
	l.Error(nil, "logr bridge error self-test")
}
