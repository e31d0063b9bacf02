package encryption

import (
	"bytes"
	"testing"

	"relsync/internal/config"
)

func TestTestEncryptor_SealOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewTestEncryptor()

			var sealed bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if bytes.Equal(sealed.Bytes(), tt.input) {
				t.Error("sealed output is identical to plaintext")
			}

			var again bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &again); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !bytes.Equal(sealed.Bytes(), again.Bytes()) {
				t.Error("sealing is not deterministic")
			}

			dec, err := e.Unlock("")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var opened bytes.Buffer
			if err := dec.Decrypt(bytes.NewReader(sealed.Bytes()), &opened); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(opened.Bytes(), tt.input) {
				t.Errorf("Decrypt() = %x, want %x", opened.Bytes(), tt.input)
			}
		})
	}
}

func TestTestEncryptor_Passphrase(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if err := e.Setup("secret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("secret"); err != nil {
		t.Errorf("Unlock(correct) error = %v", err)
	}
	if _, err := e.Unlock("nope"); err == nil {
		t.Error("Unlock(wrong) error = nil, want error")
	}
}

func TestTestDecryptionContext_BadMarker(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	if err := (TestDecryptionContext{}).Decrypt(bytes.NewReader([]byte("not sealed at all")), &out); err == nil {
		t.Error("Decrypt() error = nil, want error")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		wantErr bool
	}{
		{name: "age with paths", cfg: config.EncryptionConfig{Type: "age", PublicKeyPath: dir + "/k.pub", PrivateKeyPath: dir + "/k.key"}},
		{name: "default type is age", cfg: config.EncryptionConfig{PublicKeyPath: dir + "/k.pub", PrivateKeyPath: dir + "/k.key"}},
		{name: "age without paths", cfg: config.EncryptionConfig{Type: "age"}, wantErr: true},
		{name: "test", cfg: config.EncryptionConfig{Type: "test"}},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewEncryptorFromConfig() returned nil")
			}
		})
	}
}
