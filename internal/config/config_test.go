package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default() failed validation: %v", err)
	}
}

func TestValidateRejectsBadMaxIterations(t *testing.T) {
	c := Default()
	c.MaxIterations = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for MaxIterations = 0")
	}
}

func TestValidateRejectsManualSigmasWithoutValues(t *testing.T) {
	c := Default()
	c.UseManualSigmas = true
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for use_manual_sigmas with zero vicon_sigmas")
	}

	c.ViconSigmas = [6]float64{0.01, 0.01, 0.01, 0.01, 0.01, 0.01}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
