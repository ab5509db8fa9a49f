package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"devbook/internal/logs"
	"devbook/internal/models"
)

func init() { logs.Silence() }

func ptr[T any](v T) *T { return &v }

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenEmptyDirAppliesDefaults(t *testing.T) {
	s := openTemp(t)
	s.View(func(v *Snapshot) {
		st := v.Settings()
		if st.MaxDevicesPerUser != 2 || st.DefaultBookingPeriodDays != 1 || st.NotifyBeforeMinutes != 60 {
			t.Errorf("defaults not applied: %+v", st)
		}
		if len(v.Devices()) != 0 || len(v.Users()) != 0 || len(v.Groups()) != 0 {
			t.Error("collections must start empty")
		}
	})
}

func TestPartialSettingsKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	body := `{"admin_ids": [7], "max_devices_per_user": 5, "bot_token": "legacy"}`
	if err := os.WriteFile(filepath.Join(dir, SettingsFile), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.View(func(v *Snapshot) {
		st := v.Settings()
		if st.MaxDevicesPerUser != 5 {
			t.Errorf("max_devices_per_user: want 5, got %d", st.MaxDevicesPerUser)
		}
		if st.DefaultBookingPeriodDays != 1 {
			t.Errorf("default period must default to 1, got %d", st.DefaultBookingPeriodDays)
		}
		if !st.IsAllowlisted(7) {
			t.Error("admin 7 must be allowlisted")
		}
	})
}

func TestWrongShapeStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DevicesFile), []byte(`{"id": 1}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.View(func(v *Snapshot) {
		if len(v.Devices()) != 0 {
			t.Errorf("want empty devices, got %d", len(v.Devices()))
		}
	})
}

func TestCorruptFileIsError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, UsersFile), []byte(`[{"user_id": `), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); err == nil {
		t.Fatal("want error for truncated JSON")
	}
}

func TestRoundTrip(t *testing.T) {
	s := openTemp(t)
	exp := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	at := time.Date(2025, 4, 30, 12, 0, 0, 0, time.Local)

	err := s.Update(func(tx *Tx) error {
		tx.AddGroup(models.Group{ID: 1, Name: "QA"})
		tx.AddGroup(models.Group{ID: 2, Name: "Dev"})
		tx.AddUser(models.User{UserID: 10, Username: "u10", FirstName: "A", Role: models.RoleUser, Status: models.UserActive, GroupID: ptr(int64(1))})
		tx.AddDevice(models.Device{ID: 2, Name: "B", SN: "SN2", Type: "Tablet", Status: models.DeviceFree})
		d := models.Device{ID: 1, Name: "A", SN: "SN1", Type: "Phone", GroupID: ptr(int64(1)), DefaultPeriod: ptr(3)}
		d.Book(10, exp)
		tx.AddDevice(d)
		tx.AppendLog("SN1", "booked", at)
		tx.AppendLog("SN1", "extended", at)
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	var before collections
	s.View(func(v *Snapshot) { before = v.collections.clone() })

	again, err := Open(s.Dir())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var after collections
	again.View(func(v *Snapshot) { after = v.collections.clone() })

	if !reflect.DeepEqual(before.groups, after.groups) {
		t.Errorf("groups differ: %+v vs %+v", before.groups, after.groups)
	}
	if !reflect.DeepEqual(before.users, after.users) {
		t.Errorf("users differ: %+v vs %+v", before.users, after.users)
	}
	if !reflect.DeepEqual(before.logs, after.logs) {
		t.Errorf("logs differ: %+v vs %+v", before.logs, after.logs)
	}
	if len(after.devices) != 2 || after.devices[0].ID != 2 || after.devices[1].ID != 1 {
		t.Fatalf("device order not preserved: %+v", after.devices)
	}
	d := after.devices[1]
	if d.Owner() != 10 || !d.ExpiresAt().Equal(exp) || *d.DefaultPeriod != 3 {
		t.Errorf("device booking lost: %+v", d)
	}
}

func TestUpdateErrorRollsBack(t *testing.T) {
	s := openTemp(t)
	boom := errors.New("boom")
	err := s.Update(func(tx *Tx) error {
		tx.AddGroup(models.Group{ID: 1, Name: "QA"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	s.View(func(v *Snapshot) {
		if len(v.Groups()) != 0 {
			t.Error("failed transaction must not be visible")
		}
	})
	if _, err := os.Stat(filepath.Join(s.Dir(), GroupsFile)); !os.IsNotExist(err) {
		t.Error("failed transaction must not write files")
	}
}

func TestPersistFailureNotCommitted(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	// Каталог на месте файла: rename поверх него не пройдёт.
	if err := os.Mkdir(filepath.Join(dir, DevicesFile), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DevicesFile, "keep"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	err = s.Update(func(tx *Tx) error {
		tx.AddDevice(models.Device{ID: 1, Name: "A", SN: "SN1", Status: models.DeviceFree})
		return nil
	})
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("want ErrPersist, got %v", err)
	}
	s.View(func(v *Snapshot) {
		if len(v.Devices()) != 0 {
			t.Error("unpersisted device must not be committed to memory")
		}
	})
}

func TestLogsFailureAfterDevicesCommitted(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, LogsFile), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, LogsFile, "keep"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	var hooked []LoggedAction
	s.OnLogs(func(a []LoggedAction) { hooked = append(hooked, a...) })

	now := time.Now()
	err = s.Update(func(tx *Tx) error {
		tx.AddDevice(models.Device{ID: 1, Name: "A", SN: "SN1", Status: models.DeviceFree})
		tx.AppendLog("SN1", "added", now)
		return nil
	})
	if err != nil {
		t.Fatalf("devices on disk, history failure must not fail the update: %v", err)
	}
	s.View(func(v *Snapshot) {
		if len(v.Devices()) != 1 || len(v.Logs()["SN1"]) != 1 {
			t.Errorf("memory: %d devices, %d log entries", len(v.Devices()), len(v.Logs()["SN1"]))
		}
	})
	if len(hooked) != 1 {
		t.Errorf("hook: want 1 action, got %d", len(hooked))
	}

	// только история: ошибка остаётся ошибкой
	err = s.Update(func(tx *Tx) error {
		tx.AppendLog("SN1", "again", now)
		return nil
	})
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("logs-only update: want ErrPersist, got %v", err)
	}

	// файл освободился, следующая запись догоняет историю
	if err := os.RemoveAll(filepath.Join(dir, LogsFile)); err != nil {
		t.Fatal(err)
	}
	err = s.Update(func(tx *Tx) error {
		tx.AppendLog("SN1", "third", now)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	reopened.View(func(v *Snapshot) {
		entries := v.Logs()["SN1"]
		if len(entries) != 2 || entries[0].Action != "added" || entries[1].Action != "third" {
			t.Errorf("history on disk: %+v", entries)
		}
	})
}

func TestAppendLogDoesNotAliasSnapshot(t *testing.T) {
	s := openTemp(t)
	now := time.Now()
	_ = s.Update(func(tx *Tx) error {
		tx.AppendLog("SN1", "one", now)
		return nil
	})

	var got []LoggedAction
	s.OnLogs(func(a []LoggedAction) { got = append(got, a...) })

	_ = s.Update(func(tx *Tx) error {
		tx.AppendLog("SN1", "two", now)
		return errors.New("abort")
	})
	s.View(func(v *Snapshot) {
		if n := len(v.Logs()["SN1"]); n != 1 {
			t.Errorf("aborted append leaked: %d entries", n)
		}
	})
	if len(got) != 0 {
		t.Errorf("hook must not fire for aborted tx, got %d", len(got))
	}

	_ = s.Update(func(tx *Tx) error {
		tx.AppendLog("SN1", "three", now)
		return nil
	})
	if len(got) != 1 || got[0].Entry.Action != "three" {
		t.Errorf("hook: want [three], got %+v", got)
	}
}

func TestNextIDs(t *testing.T) {
	s := openTemp(t)
	_ = s.Update(func(tx *Tx) error {
		if id := tx.NextDeviceID(); id != 1 {
			t.Errorf("first device id: want 1, got %d", id)
		}
		tx.AddDevice(models.Device{ID: 5})
		if id := tx.NextDeviceID(); id != 6 {
			t.Errorf("next device id: want 6, got %d", id)
		}
		tx.AddGroup(models.Group{ID: 3})
		if id := tx.NextGroupID(); id != 4 {
			t.Errorf("next group id: want 4, got %d", id)
		}
		return nil
	})
}
