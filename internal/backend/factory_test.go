package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendtrack/internal/config"
)

func TestFromAppConfig(t *testing.T) {
	cfg := &config.Config{
		DataBackend:      "rest",
		RESTBaseURL:      "http://localhost:9000",
		RESTPollInterval: 10 * time.Second,
	}
	got, err := FromAppConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, RESTBackend, got.Type)
	assert.Equal(t, "http://localhost:9000", got.RESTBaseURL)

	_, err = FromAppConfig(&config.Config{DataBackend: "mongo"})
	assert.Error(t, err)

	_, err = FromAppConfig(nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"sqlite ok", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite missing path", Config{Type: SQLiteBackend}, true},
		{"rest ok", Config{Type: RESTBackend, RESTBaseURL: "http://x"}, false},
		{"rest missing url", Config{Type: RESTBackend}, true},
		{"file ok", Config{Type: FileBackend, LocalFilePath: "x.json"}, false},
		{"file missing path", Config{Type: FileBackend}, true},
		{"unknown type", Config{Type: "mongo"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateSQLiteBackend(t *testing.T) {
	factory := NewFactory(nil)
	result, err := factory.CreateBackend(context.Background(), Config{
		Type:         SQLiteBackend,
		SQLiteDBPath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	defer result.Cleanup()

	assert.NotNil(t, result.Repository)
	assert.NotNil(t, result.Users, "sqlite backend owns the user store")
}

func TestCreateFileBackend(t *testing.T) {
	factory := NewFactory(nil)
	result, err := factory.CreateBackend(context.Background(), Config{
		Type:          FileBackend,
		LocalFilePath: filepath.Join(t.TempDir(), "expenses.json"),
	})
	require.NoError(t, err)
	defer result.Cleanup()

	assert.NotNil(t, result.Repository)
	assert.Nil(t, result.Users)
}

func TestCreateBackendRejectsInvalidConfig(t *testing.T) {
	factory := NewFactory(nil)
	_, err := factory.CreateBackend(context.Background(), Config{Type: "mongo"})
	assert.Error(t, err)
}
