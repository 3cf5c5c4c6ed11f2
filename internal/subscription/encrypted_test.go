package subscription

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pkgerrors "corpvpn/pkg/errors"
)

func TestEncryptedListRoundTrip(t *testing.T) {
	lines := []string{
		"# corporate subscriptions",
		"https://sub.example/a",
		"",
		"  https://sub.example/b  ",
		"HTTPS://SUB.EXAMPLE/A",
		"not a url",
		"/relative/path",
	}
	data, err := EncryptList(lines, "s3cret")
	if err != nil {
		t.Fatalf("EncryptList: %v", err)
	}
	if (len(data)-16)%16 != 0 {
		t.Fatalf("ciphertext length %d is not block aligned", len(data)-16)
	}

	path := filepath.Join(t.TempDir(), "subscriptions.enc")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	urls, err := LoadEncryptedList(path, "s3cret")
	if err != nil {
		t.Fatalf("LoadEncryptedList: %v", err)
	}
	want := "https://sub.example/a|https://sub.example/b"
	if got := strings.Join(urls, "|"); got != want {
		t.Fatalf("urls = %q, want %q", got, want)
	}
}

func TestDecryptListErrors(t *testing.T) {
	data, err := EncryptList([]string{"https://sub.example/a"}, "right")
	if err != nil {
		t.Fatal(err)
	}

	// A wrong key almost always breaks the padding; when it happens not to,
	// the garbage plaintext holds no URL.
	urls, err := DecryptList(data, "wrong")
	if err == nil && len(urls) != 0 {
		t.Fatalf("wrong key produced %v", urls)
	}
	if err != nil && !errors.Is(err, pkgerrors.ErrSubscriptionDecodeFailed) {
		t.Fatalf("error = %v", err)
	}

	if _, err := DecryptList(data[:len(data)-3], "right"); !errors.Is(err, pkgerrors.ErrSubscriptionDecodeFailed) {
		t.Fatalf("truncated ciphertext error = %v", err)
	}

	urls, err = DecryptList(data[:16], "right")
	if err != nil || len(urls) != 0 {
		t.Fatalf("IV-only file = %v, %v", urls, err)
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
}
