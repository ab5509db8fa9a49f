package access

import (
	"errors"
	"testing"

	"devbook/internal/models"
)

func ptr[T any](v T) *T { return &v }

type groupMap map[int64]models.Group

func (m groupMap) GroupOf(id *int64) *models.Group {
	if id == nil {
		return nil
	}
	g, ok := m[*id]
	if !ok {
		return nil
	}
	return &g
}

func TestIsAdmin(t *testing.T) {
	settings := models.DefaultSettings()
	settings.AdminIDs = []int64{99}

	tests := []struct {
		name string
		user *models.User
		id   int64
		want bool
	}{
		{"allowlisted without record", nil, 99, true},
		{"unknown", nil, 1, false},
		{"active admin", &models.User{UserID: 2, Role: models.RoleAdmin, Status: models.UserActive}, 2, true},
		{"pending admin", &models.User{UserID: 3, Role: models.RoleAdmin, Status: models.UserPending}, 3, false},
		{"active user", &models.User{UserID: 4, Role: models.RoleUser, Status: models.UserActive}, 4, false},
	}
	for _, tt := range tests {
		if got := IsAdmin(settings, tt.user, tt.id); got != tt.want {
			t.Errorf("%s: want %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestCanBook(t *testing.T) {
	settings := models.DefaultSettings()
	g1, g2 := ptr(int64(1)), ptr(int64(2))
	dev := &models.Device{ID: 1, GroupID: g1}
	noGroupDev := &models.Device{ID: 2}

	admin := &models.User{UserID: 1, Role: models.RoleAdmin, Status: models.UserActive}
	same := &models.User{UserID: 2, Role: models.RoleUser, Status: models.UserActive, GroupID: g1}
	other := &models.User{UserID: 3, Role: models.RoleUser, Status: models.UserActive, GroupID: g2}
	none := &models.User{UserID: 4, Role: models.RoleUser, Status: models.UserActive}

	cases := []struct {
		name string
		user *models.User
		dev  *models.Device
		want bool
	}{
		{"admin any", admin, noGroupDev, true},
		{"same group", same, dev, true},
		{"other group", other, dev, false},
		{"user without group", none, dev, false},
		{"device without group", same, noGroupDev, false},
	}
	for _, c := range cases {
		if got := CanBook(settings, c.user, c.dev); got != c.want {
			t.Errorf("%s: want %v, got %v", c.name, c.want, got)
		}
	}
}

func TestVisibleDevices(t *testing.T) {
	settings := models.DefaultSettings()
	all := []models.Device{
		{ID: 1, GroupID: ptr(int64(1))},
		{ID: 2, GroupID: ptr(int64(2))},
		{ID: 3},
	}
	admin := &models.User{UserID: 1, Role: models.RoleAdmin, Status: models.UserActive}
	if got := VisibleDevices(settings, admin, all); len(got) != 3 {
		t.Errorf("admin: want 3, got %d", len(got))
	}
	user := &models.User{UserID: 2, Role: models.RoleUser, Status: models.UserActive, GroupID: ptr(int64(2))}
	got := VisibleDevices(settings, user, all)
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("group user: want [2], got %+v", got)
	}
	if got := VisibleDevices(settings, &models.User{UserID: 3}, all); len(got) != 0 {
		t.Errorf("no group: want none, got %d", len(got))
	}
}

func TestDenyReason(t *testing.T) {
	groups := groupMap{1: {ID: 1, Name: "QA"}, 2: {ID: 2, Name: "Dev"}}
	dev := &models.Device{GroupID: ptr(int64(1))}

	if r := DenyReason(groups, &models.User{}, dev); r.Reason != NoUserGroup {
		t.Errorf("want NoUserGroup, got %v", r.Reason)
	}
	if r := DenyReason(groups, &models.User{GroupID: ptr(int64(2))}, &models.Device{}); r.Reason != NoDeviceGroup {
		t.Errorf("want NoDeviceGroup, got %v", r.Reason)
	}
	r := DenyReason(groups, &models.User{GroupID: ptr(int64(2))}, dev)
	if r.Reason != GroupMismatch || r.UserGroup != "Dev" || r.DeviceGroup != "QA" {
		t.Errorf("want mismatch Dev/QA, got %+v", r)
	}
}

func TestGate(t *testing.T) {
	settings := models.DefaultSettings()
	settings.AdminIDs = []int64{99}

	active := &models.User{UserID: 1, Role: models.RoleUser, Status: models.UserActive}
	pending := &models.User{UserID: 2, Role: models.RoleUser, Status: models.UserPending}
	blocked := &models.User{UserID: 3, Role: models.RoleUser, Status: models.UserBlocked}

	if err := Gate(settings, nil, 5, AllowUnregistered); err != nil {
		t.Errorf("unregistered help: %v", err)
	}
	if err := Gate(settings, nil, 5, RequireActive); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("want ErrNotRegistered, got %v", err)
	}
	if err := Gate(settings, nil, 99, RequireAdmin); err != nil {
		t.Errorf("allowlisted admin: %v", err)
	}
	if err := Gate(settings, blocked, 3, AllowUnregistered); !errors.Is(err, ErrBlocked) {
		t.Errorf("want ErrBlocked, got %v", err)
	}
	var ws *WrongStatusError
	if err := Gate(settings, pending, 2, RequireActive); !errors.As(err, &ws) || ws.Status != models.UserPending {
		t.Errorf("want WrongStatusError(pending), got %v", err)
	}
	var wr *WrongRoleError
	if err := Gate(settings, active, 1, RequireAdmin); !errors.As(err, &wr) || wr.Required != models.RoleAdmin {
		t.Errorf("want WrongRoleError(Admin), got %v", err)
	}
	if err := Gate(settings, active, 1, RequireActive); err != nil {
		t.Errorf("active user: %v", err)
	}
}
