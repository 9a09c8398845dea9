package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv             string        `env:"APP_ENV" envDefault:"dev"`
	APIAddr            string        `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN        string        `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr          string        `env:"REDIS_ADDR,notEmpty"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	MigrationsDir      string        `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	VisibilityTimeout  time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"60s"`
	PollBlock          time.Duration `env:"POLL_BLOCK" envDefault:"5s"`
	AggregationWorkers int           `env:"AGGREGATION_WORKERS" envDefault:"4"`
	ArtifactDir        string        `env:"ARTIFACT_DIR" envDefault:"/var/lib/jobcore/artifacts"`
	ArtifactBaseURL    string        `env:"ARTIFACT_BASE_URL" envDefault:"http://localhost:8080/artifacts"`
	EventChannelPrefix string        `env:"EVENT_CHANNEL_PREFIX" envDefault:"events"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
