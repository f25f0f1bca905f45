package internal

import (
	"testing"
	"time"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	req := require.New(t)
	var cfg Config
	err := env.Unmarshal(env.EnvSet{
		"BADGER_FILEPATH": "/tmp/db",
		"BLOB_DIR":        "/tmp/blobs",
		"JWT_SECRET":      "s3cret",
		"LOG_LEVEL":       "DEBUG",
		"LIMIT_MESSAGES":  "20",
	}, &cfg)
	req.NoError(err)
	req.Equal("*", cfg.CharReplacement)
	req.Equal(5*time.Minute, cfg.ReconcileInterval)
	req.Equal(8080, cfg.Port)
	req.NotNil(cfg.LimitMessages)
	req.Equal(20, *cfg.LimitMessages)
	req.Empty(cfg.BlugeFilepath)
}

func TestConfig_Required(t *testing.T) {
	var cfg Config
	err := env.Unmarshal(env.EnvSet{"LOG_LEVEL": "INFO"}, &cfg)
	require.Error(t, err)
}

func TestCharacterRune(t *testing.T) {
	req := require.New(t)
	r, err := CharacterRune("#")
	req.NoError(err)
	req.Equal('#', r)
	_, err = CharacterRune("**")
	req.Error(err)
}
