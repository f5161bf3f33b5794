package password

import "testing"

func BenchmarkArgon2id_Verify(b *testing.B) {
	h := NewArgon2id(DefaultConfig())
	pw := "this is a strong password 123!"
	enc, err := h.Hash(pw)
	if err != nil {
		b.Fatalf("Hash error: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if ok, err := h.Verify(pw, enc); err != nil || !ok {
			b.Fatalf("Verify failed: ok=%v err=%v", ok, err)
		}
	}
}
