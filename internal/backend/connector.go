package backend

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Kronh4rd/kolibri/internal/config"
	"github.com/Kronh4rd/kolibri/internal/rest"
)

// ClientVersion is this client's own version. Only the major segment takes
// part in the backend compatibility check.
const ClientVersion = "1.0.0"

var urlPattern = regexp.MustCompile(`^https?://[a-zA-Z0-9]([a-zA-Z0-9.-]*[a-zA-Z0-9])?(:[0-9]{1,5})?(/[^\s]*)?$`)

// Stage names the handshake step a connection attempt failed in.
type Stage string

const (
	StageNormalize   Stage = "normalize"
	StageHealthcheck Stage = "healthcheck"
	StageBrokerPort  Stage = "broker-port"
	StageVersion     Stage = "version"
	StageCommit      Stage = "commit"
)

// ConnectError reports a failed handshake attempt. The device stays
// unconfigured; the caller may re-enter a corrected hostname.
type ConnectError struct {
	Stage Stage
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("backend handshake failed at %s: %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Connector validates a candidate backend and commits the endpoint triple.
type Connector struct {
	cfg  *config.Config
	dial func(baseURL string) *rest.Client
}

// NewConnector builds a connector writing into cfg.
func NewConnector(cfg *config.Config) *Connector {
	return &Connector{cfg: cfg, dial: rest.NewClient}
}

// Connect runs the full handshake against the user-entered hostname:
// normalize, healthcheck, broker port, version. On success it persists the
// endpoint triple in one atomic save; on any failure nothing is persisted.
func (c *Connector) Connect(ctx context.Context, input string) error {
	baseURL, err := NormalizeURL(input)
	if err != nil {
		return &ConnectError{Stage: StageNormalize, Err: err}
	}

	client := c.dial(baseURL)
	if err := client.Healthcheck(ctx); err != nil {
		return &ConnectError{Stage: StageHealthcheck, Err: err}
	}

	port, err := client.BrokerPort(ctx)
	if err != nil {
		return &ConnectError{Stage: StageBrokerPort, Err: err}
	}
	if port <= 0 || port > 65535 {
		return &ConnectError{Stage: StageBrokerPort, Err: fmt.Errorf("port %d out of range", port)}
	}

	version, err := client.Version(ctx)
	if err != nil {
		return &ConnectError{Stage: StageVersion, Err: err}
	}
	if !VersionCompatible(ClientVersion, version) {
		return &ConnectError{Stage: StageVersion, Err: fmt.Errorf("backend version %q incompatible with client %q", version, ClientVersion)}
	}

	c.cfg.SetEndpoint(baseURL, BrokerHost(baseURL), port)
	if err := c.cfg.Save(); err != nil {
		c.cfg.ClearEndpoint()
		return &ConnectError{Stage: StageCommit, Err: err}
	}
	slog.Info("backend committed", "baseURL", baseURL, "brokerHost", c.cfg.BrokerHost, "brokerPort", port)
	return nil
}

// NormalizeURL validates a user-entered hostname. Input without a scheme
// gets an "https://" prefix; a trailing slash is appended. Input that still
// fails the URL pattern is rejected without any network call.
func NormalizeURL(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty hostname")
	}
	if !urlPattern.MatchString(input) {
		input = "https://" + input
		if !urlPattern.MatchString(input) {
			return "", fmt.Errorf("not a valid backend URL")
		}
	}
	if !strings.HasSuffix(input, "/") {
		input += "/"
	}
	return input, nil
}

// BrokerHost derives the broker hostname from a validated base URL by
// stripping the protocol prefix and any trailing slash. The broker listens
// on the same host as the backend, on its own port.
func BrokerHost(baseURL string) string {
	host := strings.TrimPrefix(baseURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

// VersionCompatible compares only the major version segments. Minor and
// patch mismatches are accepted.
func VersionCompatible(clientVersion, backendVersion string) bool {
	return majorSegment(clientVersion) != "" && majorSegment(clientVersion) == majorSegment(backendVersion)
}

func majorSegment(version string) string {
	version = strings.TrimSpace(version)
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}
