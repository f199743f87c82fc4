package pqconn

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgpassfile"
	"github.com/jackc/pgservicefile"
)

// ConnectTransportFunc establishes one transport session for config. It is
// the injection point for whatever actually speaks the wire protocol.
type ConnectTransportFunc func(ctx context.Context, config *Config) (Transport, error)

// Config is the immutable connection descriptor. Construct it with
// ParseConfig; a Config built by hand is rejected by Connect.
type Config struct {
	Host          string
	Port          uint16
	User          string
	Password      string
	Database      string
	RuntimeParams map[string]string

	// ConnectTransport establishes the transport session. It must be set
	// before Connect is called.
	ConnectTransport ConnectTransportFunc

	createdByParseConfig bool
}

const defaultPort = 5432

// ParseConfig builds a Config from a connection descriptor in URL
// (postgres://...) or keyword/value (host=... user=...) form. An empty
// descriptor targets the default local server. A malformed descriptor fails
// with *DescriptorError before any transport work is attempted.
func ParseConfig(descriptor string) (*Config, error) {
	config := &Config{
		Port:                 defaultPort,
		RuntimeParams:        make(map[string]string),
		createdByParseConfig: true,
	}

	settings := make(map[string]string)
	switch {
	case descriptor == "":
	case strings.HasPrefix(descriptor, "postgres://"), strings.HasPrefix(descriptor, "postgresql://"):
		var err error
		settings, err = parseURLDescriptor(descriptor)
		if err != nil {
			return nil, &DescriptorError{Descriptor: descriptor, msg: "failed to parse as URL", err: err}
		}
	default:
		var err error
		settings, err = parseKeywordValueDescriptor(descriptor)
		if err != nil {
			return nil, &DescriptorError{Descriptor: descriptor, msg: "failed to parse as keyword/value", err: err}
		}
	}

	if service, ok := settings["service"]; ok {
		serviceSettings, err := lookupService(service)
		if err != nil {
			return nil, &DescriptorError{Descriptor: descriptor, msg: fmt.Sprintf("failed to read service %q", service), err: err}
		}
		delete(settings, "service")
		for k, v := range serviceSettings {
			if _, ok := settings[k]; !ok {
				settings[k] = v
			}
		}
	}

	for k, v := range settings {
		switch k {
		case "host":
			config.Host = v
		case "port":
			port, err := strconv.ParseUint(v, 10, 16)
			if err != nil || port == 0 {
				return nil, &DescriptorError{Descriptor: descriptor, msg: fmt.Sprintf("invalid port %q", v), err: err}
			}
			config.Port = uint16(port)
		case "user":
			config.User = v
		case "password":
			config.Password = v
		case "dbname":
			config.Database = v
		case "passfile", "servicefile":
			// handled below / in lookupService
		default:
			config.RuntimeParams[k] = v
		}
	}

	if config.Host == "" {
		config.Host = defaultHost()
	}
	if config.User == "" {
		config.User = defaultUser()
	}
	if config.Database == "" {
		config.Database = config.User
	}
	if config.Password == "" {
		config.Password = passfilePassword(settings["passfile"], config)
	}

	return config, nil
}

func parseURLDescriptor(descriptor string) (map[string]string, error) {
	u, err := url.Parse(descriptor)
	if err != nil {
		return nil, err
	}

	settings := make(map[string]string)

	if u.User != nil {
		settings["user"] = u.User.Username()
		if password, ok := u.User.Password(); ok {
			settings["password"] = password
		}
	}

	if host := u.Hostname(); host != "" {
		settings["host"] = host
	}
	if port := u.Port(); port != "" {
		settings["port"] = port
	}

	if database := strings.TrimLeft(u.Path, "/"); database != "" {
		settings["dbname"] = database
	}

	for k, v := range u.Query() {
		settings[k] = v[0]
	}

	return settings, nil
}

func parseKeywordValueDescriptor(descriptor string) (map[string]string, error) {
	settings := make(map[string]string)

	s := strings.TrimSpace(descriptor)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 1 {
			return nil, fmt.Errorf("expected key=value")
		}
		key := strings.TrimSpace(s[:eq])
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value string
		if strings.HasPrefix(s, "'") {
			end := strings.IndexByte(s[1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted value")
			}
			value = s[1 : end+1]
			s = s[end+2:]
		} else {
			end := strings.IndexAny(s, " \t")
			if end < 0 {
				end = len(s)
			}
			value = s[:end]
			s = s[end:]
		}

		settings[key] = value
		s = strings.TrimSpace(s)
	}

	return settings, nil
}

func lookupService(service string) (map[string]string, error) {
	path := os.Getenv("PGSERVICEFILE")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".pg_service.conf")
	}

	servicefile, err := pgservicefile.ReadServicefile(path)
	if err != nil {
		return nil, err
	}

	svc, err := servicefile.GetService(service)
	if err != nil {
		return nil, err
	}

	return svc.Settings, nil
}

// passfilePassword looks the password up in the passfile, libpq style. Any
// failure to read the file simply means no password.
func passfilePassword(path string, config *Config) string {
	if path == "" {
		path = os.Getenv("PGPASSFILE")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, ".pgpass")
	}

	passfile, err := pgpassfile.ReadPassfile(path)
	if err != nil {
		return ""
	}

	return passfile.FindPassword(config.Host, strconv.Itoa(int(config.Port)), config.Database, config.User)
}

func defaultHost() string {
	if host := os.Getenv("PGHOST"); host != "" {
		return host
	}
	return "localhost"
}

func defaultUser() string {
	if u := os.Getenv("PGUSER"); u != "" {
		return u
	}
	if osUser, err := user.Current(); err == nil {
		return osUser.Username
	}
	return "postgres"
}
