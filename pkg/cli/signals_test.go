package cli

import (
	"syscall"
	"testing"
	"time"
)

func TestSetupSignalHandler_Cancel(t *testing.T) {
	ctx, cancel := SetupSignalHandler()

	select {
	case <-ctx.Done():
		t.Fatal("context should not be cancelled initially")
	default:
	}

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by cancel func")
	}
}

func TestSetupSignalHandler_Signal(t *testing.T) {
	ctx, cancel := SetupSignalHandler()
	defer cancel()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send signal: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}
