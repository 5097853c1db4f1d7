// Package models defines the core data structures shared across all layers of
// the proxy monitor. These types represent the canonical in-memory form of the
// device inventory and the collected telemetry; every other package depends on
// this package and nothing here depends on any other internal package.
package models

// Device is one monitored proxy appliance, fully resolved from configuration.
// It is immutable for the duration of one polling cycle.
type Device struct {
	// ID is the operator-assigned numeric identifier. Result records are
	// sorted by this value.
	ID uint32

	// Host is the management address: a literal IPv4 address or a DNS name.
	Host string

	// Alias is the optional human-readable name shown in place of Host.
	Alias string

	// Group is the fleet group this device belongs to; cycles may be
	// restricted to a single group.
	Group string

	// Community is the SNMPv2c community string used for GET requests.
	Community string

	// SSHPort, Username and Password are the credentials for metrics whose
	// source is SSH rather than SNMP (default port 22).
	SSHPort  int
	Username string
	Password string
}

// DisplayName returns the alias when one is configured, otherwise the host.
func (d Device) DisplayName() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Host
}

// SourceKind selects how a metric is fetched.
type SourceKind int

const (
	// SourceSNMP fetches the metric with an SNMP GET of MetricSource.OID.
	SourceSNMP SourceKind = iota

	// SourceSSH fetches the metric by running a command over SSH.
	SourceSSH
)

// MetricSource describes where one configured metric comes from. The choice
// is made once at configuration load; collection code switches on Kind and
// never inspects sentinel strings.
type MetricSource struct {
	Kind SourceKind

	// OID is the scalar object identifier to GET. Empty when Kind is SourceSSH.
	OID string
}

// InterfaceOIDs holds the per-direction counter OIDs for one named interface.
// Either direction may be empty when the device exposes only one.
type InterfaceOIDs struct {
	In  string `yaml:"in"`
	Out string `yaml:"out"`
}
