package logger

import "testing"

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		t.Run(env, func(t *testing.T) {
			log, err := New(env)
			if err != nil {
				t.Fatalf("New(%q) error: %v", env, err)
			}
			if log == nil {
				t.Fatalf("New(%q) returned nil logger", env)
			}
			log.Info("logger ready")
		})
	}
}
