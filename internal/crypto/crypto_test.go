package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("request.pid=1234\nrequest.user=gamer\nproc.nice=-10\n")

	token, err := Encrypt("s3cr3t", plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt("s3cr3t", token)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	token, err := Encrypt("correct-horse", []byte("secret body"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt("wrong-password", token); err == nil {
		t.Fatal("expected decryption to fail with wrong passphrase")
	}
}

func TestEncryptProducesFreshSaltAndNonce(t *testing.T) {
	a, err := Encrypt("pw", []byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt a: %v", err)
	}
	b, err := Encrypt("pw", []byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt b: %v", err)
	}
	if string(a) == string(b) {
		t.Fatal("expected distinct tokens for repeated calls (random salt/nonce)")
	}
}

func TestGenerateKeyUniqueness(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	b, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct generated keys")
	}
}
