package internal

import (
	"fmt"
	"time"
)

type Config struct {
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath     string        `env:"BLUGE_FILEPATH"`
	BlobDir           string        `env:"BLOB_DIR,required=true"`
	CensoredDir       string        `env:"CENSORED_DIR"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,default=*"`
	LimitMessages     *int          `env:"LIMIT_MESSAGES"`
	MaxAttachmentSize int64         `env:"MAX_ATTACHMENT_SIZE,default=26214400"`
	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	JWTIssuer         string        `env:"JWT_ISSUER"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL,default=5m"`
	JanitorInterval   time.Duration `env:"JANITOR_INTERVAL,default=1m"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,default=15s"`
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
	Host              string        `env:"HOST,default=localhost"`
	Port              int           `env:"PORT,default=8080"`
	MetricsAddr       string        `env:"METRICS_ADDR,default=:9090"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
