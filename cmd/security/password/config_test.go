package password

import "testing"

func TestFromEnv_ExplicitDefaults(t *testing.T) {
	def := DefaultConfig()
	t.Setenv("RELAY_PASSWORD_MIN_LEN", "8")
	t.Setenv("RELAY_PASSWORD_MAX_LEN", "256")
	t.Setenv("RELAY_PASSWORD_REJECT_VERY_WEAK", "false")
	t.Setenv("RELAY_ARGON2_MEMORY_KIB", "65536")
	t.Setenv("RELAY_ARGON2_ITERATIONS", "3")
	t.Setenv("RELAY_ARGON2_PARALLELISM", "1")
	t.Setenv("RELAY_ARGON2_SALT_LEN", "16")
	t.Setenv("RELAY_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != def.Policy.MinLength {
		t.Fatalf("min length=%d want %d", cfg.Policy.MinLength, def.Policy.MinLength)
	}
	if cfg.Params.MemoryKiB != def.Params.MemoryKiB {
		t.Fatalf("memory=%d want %d", cfg.Params.MemoryKiB, def.Params.MemoryKiB)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("RELAY_PASSWORD_MIN_LEN", "10")
	t.Setenv("RELAY_PASSWORD_MAX_LEN", "200")
	t.Setenv("RELAY_PASSWORD_REJECT_VERY_WEAK", "true")
	t.Setenv("RELAY_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("RELAY_ARGON2_ITERATIONS", "4")
	t.Setenv("RELAY_ARGON2_PARALLELISM", "2")
	t.Setenv("RELAY_ARGON2_SALT_LEN", "24")
	t.Setenv("RELAY_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 || !cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 {
		t.Fatalf("len override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "min above max", env: map[string]string{"RELAY_PASSWORD_MIN_LEN": "20", "RELAY_PASSWORD_MAX_LEN": "10"}},
		{name: "not a number", env: map[string]string{"RELAY_ARGON2_ITERATIONS": "many"}},
		{name: "memory too small", env: map[string]string{"RELAY_ARGON2_MEMORY_KIB": "16"}},
		{name: "bad bool", env: map[string]string{"RELAY_PASSWORD_REJECT_VERY_WEAK": "maybe"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
