package database

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mxschmitt/pg-datasource/internal/datasource"
	"github.com/mxschmitt/pg-datasource/internal/dsn"
)

const postgresScheme = "postgresql://"

var versionPattern = regexp.MustCompile(`PostgreSQL (\d+(?:\.\d+)?)`)

type Database struct {
	Name           string
	Host           string
	Port           uint16
	Username       string
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration

	poolConfig *pgxpool.Config
	pool       *pgxpool.Pool
}

// New builds the pool configuration from a resolved data source. The
// driver prefix of the canonical URL is dropped, connectTimeout becomes the
// dial timeout and socketTimeout bounds every Ping and query issued here.
func New(ds *datasource.DataSource) (*Database, error) {
	idx := strings.Index(ds.URL, postgresScheme)
	if idx < 0 || (idx > 0 && !strings.HasSuffix(ds.URL[:idx], ":")) {
		return nil, fmt.Errorf("invalid connection URL %q: not a postgresql URL", ds.MaskedURL())
	}

	u, err := url.Parse(ds.URL[idx:])
	if err != nil {
		if uerr, ok := err.(*url.Error); ok {
			err = uerr.Err
		}
		return nil, fmt.Errorf("invalid connection URL %q: %w", ds.MaskedURL(), err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid connection URL %q: missing host", ds.MaskedURL())
	}

	query := u.Query()
	connectTimeout, err := timeoutParam(query, "connectTimeout")
	if err != nil {
		return nil, err
	}
	socketTimeout, err := timeoutParam(query, "socketTimeout")
	if err != nil {
		return nil, err
	}
	query.Del("connectTimeout")
	query.Del("socketTimeout")
	u.RawQuery = query.Encode()

	switch {
	case ds.Username != "" && ds.Password != "":
		u.User = url.UserPassword(ds.Username, ds.Password)
	case ds.Username != "":
		u.User = url.User(ds.Username)
	}

	cfg, err := pgxpool.ParseConfig(u.String())
	if err != nil {
		return nil, fmt.Errorf("invalid connection URL %q: %w", ds.MaskedURL(), err)
	}
	cfg.ConnConfig.ConnectTimeout = connectTimeout
	// A password override applies even when the user comes from the URL or
	// the pgx defaults.
	if ds.Password != "" {
		cfg.ConnConfig.Password = ds.Password
	}

	return &Database{
		Name:           cfg.ConnConfig.Database,
		Host:           cfg.ConnConfig.Host,
		Port:           cfg.ConnConfig.Port,
		Username:       cfg.ConnConfig.User,
		ConnectTimeout: connectTimeout,
		SocketTimeout:  socketTimeout,
		poolConfig:     cfg,
	}, nil
}

func timeoutParam(query url.Values, key string) (time.Duration, error) {
	value := query.Get(key)
	if value == "" {
		return dsn.DefaultTimeout, nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive number of seconds", key, value)
	}
	return time.Duration(seconds) * time.Second, nil
}

// PoolConfig returns a copy of the pool configuration.
func (d *Database) PoolConfig() *pgxpool.Config {
	return d.poolConfig.Copy()
}

// Open creates the connection pool. Connections are established lazily.
func (d *Database) Open(ctx context.Context) error {
	if d.pool != nil {
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, d.poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	d.pool = pool
	return nil
}

func (d *Database) Pool() *pgxpool.Pool {
	return d.pool
}

func (d *Database) Ping(ctx context.Context) error {
	if d.pool == nil {
		return fmt.Errorf("connection pool is not open")
	}
	ctx, cancel := context.WithTimeout(ctx, d.SocketTimeout)
	defer cancel()
	return d.pool.Ping(ctx)
}

// ServerVersion returns the server version, e.g. "17.1".
func (d *Database) ServerVersion(ctx context.Context) (string, error) {
	if d.pool == nil {
		return "", fmt.Errorf("connection pool is not open")
	}
	ctx, cancel := context.WithTimeout(ctx, d.SocketTimeout)
	defer cancel()

	var version string
	if err := d.pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", err
	}

	if matches := versionPattern.FindStringSubmatch(version); len(matches) >= 2 {
		return matches[1], nil
	}

	// Fallback: second word of the banner
	parts := strings.Fields(version)
	if len(parts) >= 2 {
		return parts[1], nil
	}
	return version, nil
}

func (d *Database) Close() {
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
}
