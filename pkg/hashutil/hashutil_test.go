package hashutil

import "testing"

func TestSHA256HexIsLowercase(t *testing.T) {
	got := SHA256Hex([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Fatalf("SHA256Hex(%q) = %q, want %q", "hello", got, want)
	}
	for _, r := range got {
		if r >= 'A' && r <= 'Z' {
			t.Fatalf("digest %q contains uppercase hex", got)
		}
	}
}
