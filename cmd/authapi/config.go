package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/authapi/internal/logger"
)

const (
	RefreshStorePostgres = "postgres"
	RefreshStoreRedis    = "redis"
)

const (
	defaultListenAddr     = "localhost:8000"
	defaultLoggingLevel   = logger.LevelInfo
	defaultEnvironment    = logger.EnvProduction
	defaultIssuer         = "authapi"
	defaultAudience       = "authapi.clients"
	defaultAccessTTLMin   = 15
	defaultRefreshTTLDays = 7
	defaultRefreshStore   = RefreshStorePostgres
	defaultRedisAddr      = "localhost:6379"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:4200",
	"http://localhost:8080",
}

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key to sign access tokens
	// Required, the service refuses to start without it
	SecretKey string

	// Environment
	Environment string

	// Issuer and audience of access tokens
	Issuer   string
	Audience string

	// Token lifetimes
	AccessTTLMinutes int
	RefreshTTLDays   int

	// Google OAuth client ids accepted as ID token audience
	// Federated login is disabled if empty
	GoogleClientIDs []string

	// Origins allowed to call the API from browser
	CORSOrigins []string

	// Where refresh tokens are kept: postgres or redis
	RefreshStore string
	RedisAddr    string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		ListenAddr:       defaultListenAddr,
		Environment:      defaultEnvironment,
		Issuer:           defaultIssuer,
		Audience:         defaultAudience,
		AccessTTLMinutes: defaultAccessTTLMin,
		RefreshTTLDays:   defaultRefreshTTLDays,
		CORSOrigins:      defaultCORSOrigins,
		RefreshStore:     defaultRefreshStore,
		RedisAddr:        defaultRedisAddr,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if list := splitList(value); len(list) > 0 {
				*o = list
			}
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":              setString(&c.ListenAddr),
		"DATABASE_URI":             setString(&c.DatabaseDSN),
		"SECRET_KEY":               setString(&c.SecretKey),
		"LOG_LEVEL":                setString(&c.LogLevel),
		"ENVIRONMENT":              setString(&c.Environment),
		"JWT_ISSUER":               setString(&c.Issuer),
		"JWT_AUDIENCE":             setString(&c.Audience),
		"ACCESS_TOKEN_TTL_MINUTES": setInt(&c.AccessTTLMinutes),
		"REFRESH_TOKEN_TTL_DAYS":   setInt(&c.RefreshTTLDays),
		"CORS_ORIGINS":             setList(&c.CORSOrigins),
		"REFRESH_STORE":            setString(&c.RefreshStore),
		"REDIS_ADDR":               setString(&c.RedisAddr),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	// Single client id is accepted for compatibility with one-client setups
	switch ids := splitList(getenv("GOOGLE_CLIENT_IDS")); {
	case len(ids) > 0:
		c.GoogleClientIDs = ids
	case getenv("GOOGLE_CLIENT_ID") != "":
		c.GoogleClientIDs = []string{strings.TrimSpace(getenv("GOOGLE_CLIENT_ID"))}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("authapi", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign access tokens")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.Issuer, "issuer", c.Issuer, "Access token issuer")
	fs.StringVar(&c.Audience, "audience", c.Audience, "Access token audience")
	fs.IntVar(&c.AccessTTLMinutes, "access-ttl", c.AccessTTLMinutes, "Access token lifetime in minutes")
	fs.IntVar(&c.RefreshTTLDays, "refresh-ttl", c.RefreshTTLDays, "Refresh token lifetime in days")
	fs.StringSliceVar(&c.GoogleClientIDs, "google-client-id", c.GoogleClientIDs, "Google OAuth client id (repeatable)")
	fs.StringSliceVar(&c.CORSOrigins, "cors-origin", c.CORSOrigins, "Allowed CORS origin (repeatable)")
	fs.StringVar(&c.RefreshStore, "refresh-store", c.RefreshStore, "Refresh token store (postgres, redis)")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address used by redis refresh store")

	return fs.Parse(args)
}

// Check the config is complete enough to start
func (c *Config) Validate() error {
	var errs []error

	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.AccessTTLMinutes <= 0 {
		errs = append(errs, fmt.Errorf("access token ttl must be positive, got %d", c.AccessTTLMinutes))
	}
	if c.RefreshTTLDays <= 0 {
		errs = append(errs, fmt.Errorf("refresh token ttl must be positive, got %d", c.RefreshTTLDays))
	}
	if c.RefreshStore != RefreshStorePostgres && c.RefreshStore != RefreshStoreRedis {
		errs = append(errs, fmt.Errorf("unknown refresh store %q", c.RefreshStore))
	}

	return errors.Join(errs...)
}

func splitList(value string) []string {
	var list []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
