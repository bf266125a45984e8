package types

import "testing"

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Apply([]string{
		"num_steps=64",
		"lr=0.001",
		"use_gae=false",
		"policy_name=softmax",
		"sync_frac=0.6",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NumSteps != 64 {
		t.Errorf("num_steps = %d", cfg.NumSteps)
	}
	if cfg.LR != 0.001 {
		t.Errorf("lr = %f", cfg.LR)
	}
	if cfg.UseGAE {
		t.Errorf("use_gae not overridden")
	}
	if cfg.SyncFrac != 0.6 {
		t.Errorf("sync_frac = %f", cfg.SyncFrac)
	}
}

func TestApplyUnknownKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Apply([]string{"no_such_knob=1"}); err == nil {
		t.Errorf("unknown key must be rejected")
	}
}

func TestApplyMalformedOverride(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Apply([]string{"num_steps"}); err == nil {
		t.Errorf("override without '=' must be rejected")
	}
	if err := cfg.Apply([]string{"num_steps=abc"}); err == nil {
		t.Errorf("non-integer value must be rejected")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"no environments", func(c *Config) { c.NumEnvironments = 0 }, false},
		{"no steps", func(c *Config) { c.NumSteps = 0 }, false},
		{"no budget", func(c *Config) { c.TotalNumSteps = 0; c.TotalUpdates = 0 }, false},
		{"update budget only", func(c *Config) { c.TotalNumSteps = 0; c.TotalUpdates = 100 }, true},
		{"odd envs double buffered", func(c *Config) { c.NumEnvironments = 7 }, false},
		{"odd envs single buffered", func(c *Config) { c.NumEnvironments = 7; c.DoubleBuffered = false }, true},
		{"rank out of range", func(c *Config) { c.Rank = 2; c.WorldSize = 2 }, false},
		{"bad sync frac", func(c *Config) { c.SyncFrac = 0 }, false},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}
