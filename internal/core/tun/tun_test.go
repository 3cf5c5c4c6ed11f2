package tun

import (
	"errors"
	"testing"
)

func TestCheckMatchesElevated(t *testing.T) {
	err := Check()
	if Elevated() && err != nil {
		t.Errorf("Check() = %v while elevated", err)
	}
	if !Elevated() && !errors.Is(err, ErrNotElevated) {
		t.Errorf("Check() = %v, want ErrNotElevated", err)
	}
}
