// Package access is the single home of role-based visibility rules. Both
// the registry and the broadcast hub call in here rather than duplicating
// any role comparison.
package access

import (
	"fleettrace/hub/internal/events"
	"fleettrace/hub/internal/roles"
)

// DeniedReason is attached to subscribe_denied acknowledgments.
const DeniedReason = "role does not permit subscribing to this topic"

// CanSubscribe decides whether a session may register interest in a topic.
// Drivers are confined to the topic matching their own user id regardless
// of the permission strings attached to their session.
func CanSubscribe(role roles.Role, userID, topic string) bool {
	if topic == "" {
		return false
	}
	switch role {
	case roles.Driver:
		return topic == userID
	case roles.Dispatcher, roles.Supervisor, roles.FleetManager, roles.Admin:
		return true
	default:
		return false
	}
}

// CanViewAlert decides whether an alert may be delivered to a session.
// Oversight roles see everything; drivers only alerts about themselves;
// dispatchers and supervisors only alerts for topics they subscribed to.
func CanViewAlert(role roles.Role, userID string, subscribed map[string]struct{}, alert events.Alert) bool {
	switch role {
	case roles.FleetManager, roles.Admin:
		return true
	case roles.Driver:
		return alert.Topic == userID
	case roles.Dispatcher, roles.Supervisor:
		_, ok := subscribed[alert.Topic]
		return ok
	default:
		return false
	}
}
