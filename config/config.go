package config

import (
	"errors"
	"flag"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DBUrl       string
	TokenSecret string
	TokenTTL    time.Duration
	Debug       bool

	// seeded on start when both are set
	AdminUser     string
	AdminPassword string
}

// ParseFlags reads the command line. Every flag defaults to its FIELDSYNC_* environment
// variable; a .env file in the working directory is loaded first when present.
func ParseFlags() (cfg Config, err error) {
	return parse(flag.CommandLine, os.Args[1:])
}

func parse(fs *flag.FlagSet, args []string) (cfg Config, err error) {
	_ = godotenv.Load()

	var host string
	fs.StringVar(&host, "host", getenv("FIELDSYNC_HOST", "0.0.0.0"), "listen host name")
	var port uint
	fs.UintVar(&port, "port", uint(getenvInt("FIELDSYNC_PORT", 8080)), "listen port number")
	fs.StringVar(&cfg.DBUrl, "db-url", getenv("FIELDSYNC_DB_URL", "fieldsync.sqlite"), "path to SQLite3 DB file")
	fs.StringVar(&cfg.TokenSecret, "token-secret", getenv("FIELDSYNC_TOKEN_SECRET", ""), "secret key for token encryption and decryption")
	var ttl uint
	fs.UintVar(&ttl, "token-ttl", uint(getenvInt("FIELDSYNC_TOKEN_TTL", 900)), "access token TTL in seconds")
	fs.BoolVar(&cfg.Debug, "debug", getenv("FIELDSYNC_DEBUG", "") == "1", "log at DEBUG level")
	fs.StringVar(&cfg.AdminUser, "admin-user", getenv("FIELDSYNC_ADMIN_USER", ""), "username of an ADMIN user to create or reset on start")
	fs.StringVar(&cfg.AdminPassword, "admin-password", getenv("FIELDSYNC_ADMIN_PASSWORD", ""), "password for -admin-user")
	if err = fs.Parse(args); err != nil {
		return
	}

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.TokenTTL = time.Duration(ttl) * time.Second

	if cfg.TokenSecret == "" {
		err = errors.New("missing parameter -token-secret")
		return
	}
	if (cfg.AdminUser == "") != (cfg.AdminPassword == "") {
		err = errors.New("-admin-user and -admin-password go together")
	}

	return
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
