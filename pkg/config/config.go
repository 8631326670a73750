package config

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dstransfer/pkg/auth"
	"dstransfer/pkg/types"
	"dstransfer/pkg/utils"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

const (
	DefaultBufferSize      = 32 * 1024
	DefaultIdleTimeout     = 60 * time.Second
	DefaultConnectTimeout  = 30 * time.Second
	DefaultResponseTimeout = 60 * time.Second
	DefaultChecksum        = "MD5"
	EnvPrefix              = "DSTRANSFER"
)

// EndpointSettings is the connection configuration for one logical remote.
// Values are read once at startup and never mutated.
type EndpointSettings struct {
	Server          string          `mapstructure:"server" json:"server"`
	Port            int             `mapstructure:"port" json:"port"`
	Root            string          `mapstructure:"root" json:"root"`
	Transport       Scheme          `mapstructure:"transport" json:"transport"`
	Username        string          `mapstructure:"username" json:"username,omitempty"`
	Password        string          `mapstructure:"password" json:"-"`
	TLS             auth.TLSOptions `mapstructure:",squash" json:"tls"`
	ConnectTimeout  time.Duration   `mapstructure:"connect_timeout" json:"connect_timeout"`
	ResponseTimeout time.Duration   `mapstructure:"response_timeout" json:"response_timeout"`
}

// TransferConfig tunes the transfer engine and verifier.
type TransferConfig struct {
	BufferSize      string        `mapstructure:"buffer_size" json:"buffer_size"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
	DefaultChecksum string        `mapstructure:"default_checksum" json:"default_checksum"`
}

type JournalConfig struct {
	Path string `mapstructure:"path" json:"path,omitempty"`
}

type Config struct {
	Retrieval EndpointSettings `mapstructure:"retrieval" json:"retrieval"`
	Publish   EndpointSettings `mapstructure:"publish" json:"publish"`
	WebDAVGet EndpointSettings `mapstructure:"webdav_get" json:"webdav_get"`
	WebDAVPut EndpointSettings `mapstructure:"webdav_put" json:"webdav_put"`
	Transfer  TransferConfig   `mapstructure:"transfer" json:"transfer"`
	Journal   JournalConfig    `mapstructure:"journal" json:"journal"`
}

var endpointSections = []string{"retrieval", "publish", "webdav_get", "webdav_put"}

// Load reads configuration from path, or from dstransfer.{yaml,json,toml} in
// the working directory and the config directory when path is empty.
// DSTRANSFER_<SECTION>_<KEY> environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(expandPath(path))
	} else {
		v.SetConfigName("dstransfer")
		v.AddConfigPath(".")
		v.AddConfigPath(GetConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, types.NewConfigurationError("read config", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.NewConfigurationError("decode config", err)
	}
	cfg.normalize()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	for _, section := range endpointSections {
		v.SetDefault(section+".server", "")
		v.SetDefault(section+".port", 0)
		v.SetDefault(section+".root", "/")
		v.SetDefault(section+".transport", string(SchemeHTTP))
		v.SetDefault(section+".username", "")
		v.SetDefault(section+".password", "")
		v.SetDefault(section+".tls_policy", string(auth.PolicyStrict))
		v.SetDefault(section+".ca_cert", "")
		v.SetDefault(section+".client_cert", "")
		v.SetDefault(section+".client_key", "")
		v.SetDefault(section+".server_name", "")
		v.SetDefault(section+".min_tls_version", "1.2")
		v.SetDefault(section+".connect_timeout", DefaultConnectTimeout)
		v.SetDefault(section+".response_timeout", DefaultResponseTimeout)
	}
	v.SetDefault("transfer.buffer_size", "32KiB")
	v.SetDefault("transfer.idle_timeout", DefaultIdleTimeout)
	v.SetDefault("transfer.default_checksum", DefaultChecksum)
	v.SetDefault("journal.path", "")
}

func (c *Config) normalize() {
	for _, s := range []*EndpointSettings{&c.Retrieval, &c.Publish, &c.WebDAVGet, &c.WebDAVPut} {
		s.normalize()
	}
	if c.Transfer.DefaultChecksum == "" {
		c.Transfer.DefaultChecksum = DefaultChecksum
	}
	if c.Transfer.IdleTimeout <= 0 {
		c.Transfer.IdleTimeout = DefaultIdleTimeout
	}
	c.Journal.Path = expandPath(c.Journal.Path)
}

// BufferBytes returns the configured copy buffer size in bytes.
func (t TransferConfig) BufferBytes() (int, error) {
	if t.BufferSize == "" {
		return DefaultBufferSize, nil
	}
	n, err := utils.ParseDataSize(t.BufferSize)
	if err != nil {
		return 0, types.NewConfigurationError("transfer.buffer_size", err)
	}
	if n <= 0 || n > 64*utils.MiB {
		return 0, types.NewConfigurationError("transfer.buffer_size", fmt.Errorf("buffer size %d out of range", n))
	}
	return int(n), nil
}

// PublishEndpoint returns the publish settings, falling back to the retrieval
// endpoint when no separate publish endpoint is configured.
func (c *Config) PublishEndpoint() EndpointSettings {
	if c.Publish.Configured() {
		return c.Publish
	}
	return c.Retrieval
}

// WebDAVPutEndpoint returns the WebDAV upload settings, falling back to the
// WebDAV download endpoint.
func (c *Config) WebDAVPutEndpoint() EndpointSettings {
	if c.WebDAVPut.Configured() {
		return c.WebDAVPut
	}
	return c.WebDAVGet
}

func (s *EndpointSettings) normalize() {
	s.Server = strings.TrimSpace(s.Server)
	s.Transport = Scheme(strings.ToLower(strings.TrimSpace(string(s.Transport))))
	if s.Transport == "" {
		s.Transport = SchemeHTTP
	}
	s.Root = normalizeRoot(s.Root)
	s.TLS.CAPath = expandPath(s.TLS.CAPath)
	s.TLS.CertPath = expandPath(s.TLS.CertPath)
	s.TLS.KeyPath = expandPath(s.TLS.KeyPath)
	if s.TLS.Policy == "" {
		s.TLS.Policy = auth.PolicyStrict
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = DefaultConnectTimeout
	}
	if s.ResponseTimeout <= 0 {
		s.ResponseTimeout = DefaultResponseTimeout
	}
}

// normalizeRoot makes root begin and end with a slash so that remote paths
// can be appended directly.
func normalizeRoot(root string) string {
	root = strings.TrimSpace(root)
	if !strings.HasPrefix(root, "/") {
		root = "/" + root
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return root
}

// Configured reports whether a server has been set for this endpoint.
func (s EndpointSettings) Configured() bool {
	return s.Server != ""
}

// Validate returns a configuration error naming the first missing or invalid
// setting.
func (s EndpointSettings) Validate() error {
	var problem error
	switch {
	case s.Server == "":
		problem = errors.New("server is required")
	case s.Port <= 0 || s.Port > 65535:
		problem = fmt.Errorf("port %d out of range", s.Port)
	case s.Transport != SchemeHTTP && s.Transport != SchemeHTTPS:
		problem = fmt.Errorf("unsupported transport %q", s.Transport)
	case s.Password != "" && s.Username == "":
		problem = errors.New("password set without username")
	}
	if problem == nil {
		problem = s.TLS.Validate()
	}
	if problem != nil {
		return types.NewConfigurationError("validate endpoint", problem)
	}
	return nil
}

// BaseURL returns scheme://server:port/root/ for the endpoint.
func (s EndpointSettings) BaseURL() *url.URL {
	return &url.URL{
		Scheme: string(s.Transport),
		Host:   s.Server + ":" + strconv.Itoa(s.Port),
		Path:   normalizeRoot(s.Root),
	}
}

// String renders the endpoint for logs; the password is never included.
func (s EndpointSettings) String() string {
	u := s.BaseURL()
	if s.Username != "" {
		u.User = url.User(s.Username)
	}
	return u.String()
}

// LoadEndpointFile reads a legacy single-endpoint properties file with the
// keys SERVER, PORT, USER, PASSWORD, ROOT and TRANSPORT (plus optional
// TLS_POLICY and CA_CERT). Both the XML properties format
// (<properties><entry key="SERVER">...</entry></properties>) and KEY=VALUE
// lines are accepted.
func LoadEndpointFile(path string) (EndpointSettings, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return EndpointSettings{}, types.NewConfigurationError("read endpoint file", err)
	}

	var values map[string]string
	if trimmed := bytes.TrimSpace(data); bytes.HasPrefix(trimmed, []byte("<")) {
		values, err = parseXMLProperties(trimmed)
	} else {
		values, err = godotenv.UnmarshalBytes(data)
	}
	if err != nil {
		return EndpointSettings{}, types.NewConfigurationError("read endpoint file", err)
	}

	lookup := func(key string) string {
		for k, v := range values {
			if strings.EqualFold(k, key) {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	s := EndpointSettings{
		Server:    lookup("SERVER"),
		Root:      lookup("ROOT"),
		Transport: Scheme(lookup("TRANSPORT")),
		Username:  lookup("USER"),
		Password:  lookup("PASSWORD"),
		TLS: auth.TLSOptions{
			Policy:        auth.TLSPolicy(lookup("TLS_POLICY")),
			CAPath:        lookup("CA_CERT"),
			MinTLSVersion: "1.2",
		},
	}
	if port := lookup("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return EndpointSettings{}, types.NewConfigurationError("read endpoint file", fmt.Errorf("invalid PORT %q", port))
		}
		s.Port = p
	}
	s.normalize()

	return s, nil
}

type xmlProperties struct {
	XMLName xml.Name `xml:"properties"`
	Entries []struct {
		Key   string `xml:"key,attr"`
		Value string `xml:",chardata"`
	} `xml:"entry"`
}

// parseXMLProperties reads the XML properties format. A later entry with
// the same key wins.
func parseXMLProperties(data []byte) (map[string]string, error) {
	var doc xmlProperties
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid XML properties: %w", err)
	}

	values := make(map[string]string, len(doc.Entries))
	for _, e := range doc.Entries {
		if e.Key == "" {
			continue
		}
		values[e.Key] = e.Value
	}
	return values, nil
}

// GetConfigDir returns the dstransfer configuration directory
func GetConfigDir() string {
	if dir := os.Getenv("DSTRANSFER_CONFIG_DIR"); dir != "" {
		return dir
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dstransfer")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".dstransfer"
	}
	return filepath.Join(home, ".dstransfer")
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
