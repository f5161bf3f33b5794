package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHasher_ZeroValueIsSHA256(t *testing.T) {
	t.Parallel()

	var h Hasher
	if h.Keyed() {
		t.Fatalf("zero hasher should not be keyed")
	}
	if got, want := h.Hash("abc"), HashSHA256Hex("abc"); got != want {
		t.Fatalf("Hash()=%q want=%q", got, want)
	}
}

func TestHasher_KeyedDiffersFromPlain(t *testing.T) {
	t.Parallel()

	h := NewHasher([]byte(strings.Repeat("k", 32)))
	if !h.Keyed() {
		t.Fatalf("expected keyed hasher")
	}
	got := h.Hash("abc")
	if got == HashSHA256Hex("abc") {
		t.Fatalf("keyed digest must differ from plain sha256")
	}
	if len(got) != 64 {
		t.Fatalf("digest len=%d want 64", len(got))
	}
	if got != h.Hash("abc") {
		t.Fatalf("digest must be deterministic")
	}
}

func TestHasherFromEnv(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		require bool
		wantErr error
		keyed   bool
	}{
		{name: "optional missing", key: "", require: false, keyed: false},
		{name: "optional present", key: "short", require: false, keyed: true},
		{name: "required missing", key: "", require: true, wantErr: ErrHMACKeyMissing},
		{name: "required short", key: "short", require: true, wantErr: ErrHMACKeyTooShort},
		{name: "required ok", key: strings.Repeat("x", 40), require: true, keyed: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(HMACEnvKey, tc.key)
			h, err := HasherFromEnv(tc.require)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if h.Keyed() != tc.keyed {
				t.Fatalf("Keyed()=%v want %v", h.Keyed(), tc.keyed)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := HashSHA256Hex("a")
	if !Equal(a, a) {
		t.Fatalf("Equal(a,a)=false")
	}
	if Equal(a, HashSHA256Hex("b")) {
		t.Fatalf("Equal(a,b)=true")
	}
	if Equal(a, a[:10]) {
		t.Fatalf("length mismatch must not be equal")
	}
}
