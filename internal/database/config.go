// Copyright 2026 the Exposure Reporting Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"fmt"
	"time"
)

// Config holds the database connection configuration.
type Config struct {
	Name               string        `env:"DB_NAME"`
	User               string        `env:"DB_USER"`
	Host               string        `env:"DB_HOST, default=localhost"`
	Port               string        `env:"DB_PORT, default=5432"`
	SSLMode            string        `env:"DB_SSLMODE, default=require"`
	ConnectionTimeout  int           `env:"DB_CONNECT_TIMEOUT"`
	Password           string        `env:"DB_PASSWORD"`
	SSLCertPath        string        `env:"DB_SSLCERT"`
	SSLKeyPath         string        `env:"DB_SSLKEY"`
	SSLRootCertPath    string        `env:"DB_SSLROOTCERT"`
	PoolMinConnections string        `env:"DB_POOL_MIN_CONNS"`
	PoolMaxConnections string        `env:"DB_POOL_MAX_CONNS"`
	PoolMaxConnLife    time.Duration `env:"DB_POOL_MAX_CONN_LIFETIME"`
	PoolMaxConnIdle    time.Duration `env:"DB_POOL_MAX_CONN_IDLE_TIME"`
	PoolHealthCheck    time.Duration `env:"DB_POOL_HEALTH_CHECK_PERIOD"`
}

// DatabaseConfig satisfies the setup.DatabaseConfigProvider interface.
func (c *Config) DatabaseConfig() *Config {
	return c
}

// ConnectionURL builds a Postgres URI from the config.
func (c *Config) ConnectionURL() string {
	host := c.Host
	if v := c.Port; v != "" {
		host = host + ":" + v
	}

	u := &connURL{
		scheme: "postgres",
		user:   c.User,
		pass:   c.Password,
		host:   host,
		name:   c.Name,
	}
	if v := c.SSLMode; v != "" {
		u.query = "sslmode=" + v
	}
	return u.String()
}

type connURL struct {
	scheme, user, pass, host, name, query string
}

func (u *connURL) String() string {
	s := u.scheme + "://"
	if u.user != "" {
		s += u.user
		if u.pass != "" {
			s += ":" + u.pass
		}
		s += "@"
	}
	s += u.host + "/" + u.name
	if u.query != "" {
		s += "?" + u.query
	}
	return s
}

// String returns the string representation of the database connection config.
// This omits the Password field to prevent accidental logging.
func (c *Config) String() string {
	pwSet := "<set>"
	if c.Password == "" {
		pwSet = "<not set>"
	}

	return fmt.Sprintf("{Name:%v User:%v Host:%v Port:%v SSLMode:%v ConnectionTimeout:%v Password:%v SSLCertPath:%v SSLKeyPath:%v SSLRootCertPath:%v PoolMinConnections:%v PoolMaxConnections:%v PoolMaxConnLife:%v PoolMaxConnIdle:%v PoolHealthCheck:%v}",
		c.Name, c.User, c.Host, c.Port, c.SSLMode, c.ConnectionTimeout, pwSet,
		c.SSLCertPath, c.SSLKeyPath, c.SSLRootCertPath,
		c.PoolMinConnections, c.PoolMaxConnections,
		c.PoolMaxConnLife, c.PoolMaxConnIdle, c.PoolHealthCheck)
}
