package roles

import (
	"encoding/json"
	"strings"
)

// Role classifies the coarse-grained capabilities of a connected user.
type Role string

const (
	Driver       Role = "driver"
	Dispatcher   Role = "dispatcher"
	Supervisor   Role = "supervisor"
	FleetManager Role = "fleet_manager"
	Admin        Role = "admin"
	// Unclassified covers any role string the platform does not recognise;
	// it carries minimal default privileges.
	Unclassified Role = "unclassified"
)

// Parse maps an externally supplied role string onto the closed Role set.
func Parse(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case Driver:
		return Driver
	case Dispatcher:
		return Dispatcher
	case Supervisor:
		return Supervisor
	case FleetManager:
		return FleetManager
	case Admin:
		return Admin
	default:
		return Unclassified
	}
}

// Valid reports whether the role is one of the recognised classifications.
func (r Role) Valid() bool {
	switch r {
	case Driver, Dispatcher, Supervisor, FleetManager, Admin:
		return true
	default:
		return false
	}
}

// Oversight reports whether the role receives fleet-wide membership updates.
func (r Role) Oversight() bool {
	return r == FleetManager || r == Admin
}

func (r Role) String() string { return string(r) }

// MarshalJSON emits the canonical role string.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

// UnmarshalJSON parses the role, folding unknown values to Unclassified.
func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Parse(raw)
	return nil
}
