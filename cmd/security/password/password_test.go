package password

import (
	"errors"
	"testing"
)

// fastConfig keeps argon2 cheap so the suite stays quick.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestArgon2id_HashAndVerify(t *testing.T) {
	t.Parallel()

	h := NewArgon2id(fastConfig())
	enc, err := h.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := h.Verify("this is a strong password 123!", enc)
	if err != nil || !ok {
		t.Fatalf("Verify=%v err=%v want match", ok, err)
	}

	ok, err = h.Verify("wrong password", enc)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestArgon2id_SaltsDiffer(t *testing.T) {
	t.Parallel()

	h := NewArgon2id(fastConfig())
	a, err := h.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash("same password here")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatalf("two hashes of the same password must differ")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()

	cases := []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
	}
	h := NewArgon2id(fastConfig())
	for _, enc := range cases {
		ok, err := h.Verify("whatever", enc)
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q)=%v,%v want false,ErrInvalidHash", enc, ok, err)
		}
	}
}

func TestVerify_RejectsOversizedCost(t *testing.T) {
	t.Parallel()

	strong := fastConfig()
	strong.Params.Iterations = 10
	enc, err := strong.Hash("a perfectly fine password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	weak := fastConfig()
	if ok, err := weak.Verify(enc, "a perfectly fine password"); !errors.Is(err, ErrInvalidHash) || ok {
		t.Fatalf("expected ErrInvalidHash for oversized params, got ok=%v err=%v", ok, err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	cases := []struct {
		in   string
		want error
	}{
		{in: "short", want: ErrPasswordTooShort},
		{in: "this password is definitely too long", want: ErrPasswordTooLong},
		{in: "goodpassw0rd!", want: nil},
	}
	for _, tc := range cases {
		if got := cfg.Validate(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("Validate(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 6

	for _, weak := range []string{"password", "11111111", "aaaaaaaa", "1234567"} {
		if err := cfg.Validate(weak); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("Validate(%q)=%v want ErrWeakPassword", weak, err)
		}
	}
	if err := cfg.Validate("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}
