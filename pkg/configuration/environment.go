package configuration

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/buildforge/buildforge/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		panic(err)
	}
	return c
})

// Use returns the process-wide configuration, loading it on first use.
func Use() *Configuration {
	return singleton()
}

func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existingFiles = append(existingFiles, file)
		}
	}
	if len(existingFiles) == 0 {
		return 0, nil
	}
	return len(existingFiles), godotenv.Load(existingFiles...)
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"buildforge"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type RedisOptions struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type AuthzOptions struct {
	ModelPath  string `env:"AUTHZ_MODEL_PATH" envDefault:"config/access/model.conf"`
	PolicyPath string `env:"AUTHZ_POLICY_PATH" envDefault:"config/access/policy.csv"`
}

type SchedulerOptions struct {
	// Interval between accept-at scans, in seconds.
	IntervalSeconds int `env:"SCHEDULER_INTERVAL" envDefault:"30"`
}

type JobsOptions struct {
	Workers     int `env:"JOB_WORKERS" envDefault:"4"`
	MaxAttempts int `env:"JOB_MAX_ATTEMPTS" envDefault:"5"`
}

type Configuration struct {
	Database    DatabaseOptions
	Redis       RedisOptions
	Authz       AuthzOptions
	Scheduler   SchedulerOptions
	Jobs        JobsOptions
	ServerAddr  string `env:"SERVER_ADDR" envDefault:":3200"`
	DiffBackend string `env:"DIFF_BACKEND_URL" envDefault:"http://localhost:5352"`
	// TokensPath maps bearer tokens to user logins (one "token login" pair
	// per line). Real deployments front this service with a session layer.
	TokensPath string `env:"AUTH_TOKENS_PATH" envDefault:"config/tokens"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath    string `env:"LOG_PATH" envDefault:"./logs/app.log"`
	GoAppEnv   string `env:"GO_APP_ENV" envDefault:"development"`

	logger *logrus.Logger
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		log.Println("configuration: no .env files found, using environment")
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	c.Database.Opts = c.Database.ConnectionString()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger, err := logging.FileLogger(level, c.LogPath)
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}
