package store

import (
	"context"
	"path/filepath"
	"testing"

	"relsync/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.StoreConfig
		wantErr  bool
		wantNil  bool
		validate bool
	}{
		{
			name:     "memory store",
			cfg:      config.StoreConfig{Type: "memory"},
			validate: true,
		},
		{
			name:     "filesystem store",
			cfg:      config.StoreConfig{Type: "filesystem", FSRoot: filepath.Join(t.TempDir(), "release")},
			validate: true,
		},
		{
			name:    "filesystem store without root",
			cfg:     config.StoreConfig{Type: "filesystem"},
			wantErr: true,
			wantNil: true,
		},
		{
			name: "s3 store with static credentials",
			cfg: config.StoreConfig{
				Type:              "s3",
				S3Bucket:          "releases",
				S3Region:          "us-east-1",
				S3Endpoint:        "http://127.0.0.1:9000",
				S3AccessKeyID:     "key",
				S3SecretAccessKey: "secret",
			},
		},
		{
			name:    "s3 store without bucket",
			cfg:     config.StoreConfig{Type: "s3", S3Region: "us-east-1"},
			wantErr: true,
			wantNil: true,
		},
		{
			name:    "unknown store type",
			cfg:     config.StoreConfig{Type: "unknown"},
			wantErr: true,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(context.Background(), tt.cfg)

			if (err != nil) != tt.wantErr {
				t.Errorf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if (got == nil) != tt.wantNil {
				t.Errorf("NewStoreFromConfig() returned nil = %v, wantNil %v", got == nil, tt.wantNil)
			}

			if tt.validate && got != nil {
				if err := got.ValidateSetup(context.Background()); err != nil {
					t.Errorf("ValidateSetup() error = %v", err)
				}
			}
		})
	}
}
