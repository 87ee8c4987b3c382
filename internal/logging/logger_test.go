package logging

import "testing"

func TestNewDevelopment(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("new dev logger: %v", err)
	}
	logger.Debug("dev logger works")
}

func TestNewProduction(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("new prod logger: %v", err)
	}
	logger.Info("prod logger works")
}
