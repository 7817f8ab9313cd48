package access

import (
	"testing"

	"fleettrace/hub/internal/events"
	"fleettrace/hub/internal/roles"
)

func TestCanSubscribe(t *testing.T) {
	cases := []struct {
		name   string
		role   roles.Role
		userID string
		topic  string
		want   bool
	}{
		{"driver own vehicle", roles.Driver, "veh1", "veh1", true},
		{"driver other vehicle", roles.Driver, "veh1", "veh2", false},
		{"driver empty topic", roles.Driver, "veh1", "", false},
		{"dispatcher any topic", roles.Dispatcher, "disp1", "veh7", true},
		{"supervisor any topic", roles.Supervisor, "sup1", "veh7", true},
		{"fleet manager any topic", roles.FleetManager, "fm1", "veh7", true},
		{"admin any topic", roles.Admin, "adm1", "veh7", true},
		{"unclassified denied", roles.Unclassified, "u1", "veh7", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanSubscribe(tc.role, tc.userID, tc.topic); got != tc.want {
				t.Fatalf("CanSubscribe(%s, %q, %q) = %v, want %v", tc.role, tc.userID, tc.topic, got, tc.want)
			}
		})
	}
}

func TestCanViewAlert(t *testing.T) {
	alert := events.Alert{ID: "a1", Topic: "veh1", Severity: "high"}
	subscribedToVeh1 := map[string]struct{}{"veh1": {}}

	//1.- Oversight roles see every alert with no subscription requirement.
	if !CanViewAlert(roles.FleetManager, "fm1", nil, alert) {
		t.Fatal("fleet_manager must see all alerts")
	}
	if !CanViewAlert(roles.Admin, "adm1", nil, alert) {
		t.Fatal("admin must see all alerts")
	}
	//2.- Drivers only see alerts about their own vehicle.
	if !CanViewAlert(roles.Driver, "veh1", nil, alert) {
		t.Fatal("driver must see alerts for its own vehicle")
	}
	if CanViewAlert(roles.Driver, "veh9", nil, alert) {
		t.Fatal("driver must not see alerts for other vehicles")
	}
	//3.- Supervisors and dispatchers need an active subscription.
	if !CanViewAlert(roles.Supervisor, "sup1", subscribedToVeh1, alert) {
		t.Fatal("subscribed supervisor must see the alert")
	}
	if CanViewAlert(roles.Supervisor, "sup1", nil, alert) {
		t.Fatal("unsubscribed supervisor must not see the alert")
	}
	if !CanViewAlert(roles.Dispatcher, "disp1", subscribedToVeh1, alert) {
		t.Fatal("subscribed dispatcher must see the alert")
	}
	//4.- Unclassified roles never see alerts.
	if CanViewAlert(roles.Unclassified, "u1", subscribedToVeh1, alert) {
		t.Fatal("unclassified must not see alerts")
	}
}
