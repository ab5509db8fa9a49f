package booking

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"devbook/internal/access"
	"devbook/internal/logs"
	"devbook/internal/models"
	"devbook/internal/reminder"
	"devbook/internal/storage"
)

func init() { logs.Silence() }

func ptr[T any](v T) *T { return &v }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sent struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []sent
}

func (n *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, sent{chatID, text})
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) to(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.msgs {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

const (
	u1    int64 = 1
	u2    int64 = 2
	uG2   int64 = 3
	uNone int64 = 4
	admin int64 = 100
)

type fixture struct {
	store *storage.Store
	svc   *Service
	clk   *clock
	note  *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g1, g2 := ptr(int64(1)), ptr(int64(2))
	err = st.Update(func(tx *storage.Tx) error {
		tx.AddGroup(models.Group{ID: 1, Name: "G1"})
		tx.AddGroup(models.Group{ID: 2, Name: "G2"})
		for _, u := range []models.User{
			{UserID: u1, FirstName: "Один", Role: models.RoleUser, Status: models.UserActive, GroupID: g1},
			{UserID: u2, FirstName: "Два", Role: models.RoleUser, Status: models.UserActive, GroupID: g1},
			{UserID: uG2, FirstName: "Три", Role: models.RoleUser, Status: models.UserActive, GroupID: g2},
			{UserID: uNone, FirstName: "Четыре", Role: models.RoleUser, Status: models.UserActive},
			{UserID: admin, FirstName: "Админ", Role: models.RoleAdmin, Status: models.UserActive},
		} {
			tx.AddUser(u)
		}
		for i, sn := range []string{"SN1", "SN2", "SN3"} {
			tx.AddDevice(models.Device{ID: int64(i + 1), Name: "Dev" + sn, SN: sn, Type: "Phone", Status: models.DeviceFree, GroupID: g1})
		}
		tx.AddDevice(models.Device{ID: 4, Name: "DevSN4", SN: "SN4", Type: "Tablet", Status: models.DeviceFree, GroupID: g2})
		tx.AddDevice(models.Device{ID: 5, Name: "DevSN5", SN: "SN5", Type: "PC", Status: models.DeviceFree, DefaultPeriod: ptr(3), GroupID: g1})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	clk := &clock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)}
	note := &fakeNotifier{}
	svc := NewService(st, WithClock(clk.Now), WithNotifier(note))
	t.Cleanup(svc.Scheduler().Stop)
	return &fixture{store: st, svc: svc, clk: clk, note: note}
}

func (f *fixture) device(id int64) models.Device {
	var d models.Device
	f.store.View(func(v *storage.Snapshot) { d = *v.Device(id) })
	return d
}

func checkInvariant(t *testing.T, st *storage.Store) {
	t.Helper()
	st.View(func(v *storage.Snapshot) {
		for _, d := range v.Devices() {
			free := d.Status == models.DeviceFree
			unset := d.OwnerID == nil && d.Expiration == nil
			if free != unset {
				t.Errorf("device %d: status %s with owner=%v expiration=%v", d.ID, d.Status, d.OwnerID, d.Expiration)
			}
		}
	})
}

func TestBookScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Book(ctx, u1, 1)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	want := f.clk.Now().Add(24 * time.Hour)
	if !b.Until.Equal(want) {
		t.Errorf("expiration: want %v, got %v", want, b.Until)
	}
	d := f.device(1)
	if d.Status != models.DeviceBooked || d.Owner() != u1 || !d.ExpiresAt().Equal(want) {
		t.Errorf("device not booked as expected: %+v", d)
	}

	if _, err := f.svc.Book(ctx, u2, 1); !errors.Is(err, ErrAlreadyBooked) {
		t.Errorf("second booking: want ErrAlreadyBooked, got %v", err)
	}
	if ErrAlreadyBooked.Error() != "already booked" {
		t.Errorf("unexpected message %q", ErrAlreadyBooked.Error())
	}

	f.store.View(func(v *storage.Snapshot) {
		entries := v.Logs()["SN1"]
		if len(entries) != 1 || !strings.HasPrefix(entries[0].Action, "Забронировано пользователем Один до ") {
			t.Errorf("log entry: %+v", entries)
		}
	})
	if f.svc.Scheduler().Pending() != 1 {
		t.Errorf("reminder must be scheduled")
	}
	checkInvariant(t, f.store)
}

func TestBookDevicePeriod(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Book(context.Background(), u1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if want := f.clk.Now().Add(72 * time.Hour); !b.Until.Equal(want) {
		t.Errorf("device period: want %v, got %v", want, b.Until)
	}
}

func TestBookErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Book(ctx, u1, 42); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("want ErrDeviceNotFound, got %v", err)
	}
	if _, err := f.svc.Book(ctx, 777, 1); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("want ErrUserNotFound, got %v", err)
	}

	var denied *access.DeniedError
	if _, err := f.svc.Book(ctx, uG2, 1); !errors.As(err, &denied) || denied.Reason != access.GroupMismatch {
		t.Errorf("other group: want GroupMismatch, got %v", err)
	}
	if _, err := f.svc.Book(ctx, uNone, 1); !errors.As(err, &denied) || denied.Reason != access.NoUserGroup {
		t.Errorf("no group: want NoUserGroup, got %v", err)
	}
	// админ бронирует что угодно
	if _, err := f.svc.Book(ctx, admin, 4); err != nil {
		t.Errorf("admin booking: %v", err)
	}
	checkInvariant(t, f.store)
}

func TestBookLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		if _, err := f.svc.Book(ctx, u1, id); err != nil {
			t.Fatalf("book %d: %v", id, err)
		}
	}
	_, err := f.svc.Book(ctx, u1, 3)
	var le *LimitError
	if !errors.Is(err, ErrLimit) || !errors.As(err, &le) || le.Max != 2 {
		t.Fatalf("third booking: want LimitError{2}, got %v", err)
	}
	if d := f.device(3); d.IsBooked() {
		t.Error("rejected booking must not change state")
	}

	if _, err := f.svc.Release(ctx, u1, 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := f.svc.Book(ctx, u1, 3); err != nil {
		t.Errorf("booking after release: %v", err)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Release(ctx, u2, 1); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner release: want ErrNotOwner, got %v", err)
	}
	r, err := f.svc.Release(ctx, u1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if r.FormerOwner != u1 || r.ByAdmin {
		t.Errorf("unexpected result %+v", r)
	}
	if f.svc.Scheduler().Pending() != 0 {
		t.Error("release must cancel the reminder")
	}
	if _, err := f.svc.Release(ctx, u1, 1); !errors.Is(err, ErrNotBooked) {
		t.Errorf("double release: want ErrNotBooked, got %v", err)
	}

	f.store.View(func(v *storage.Snapshot) {
		entries := v.Logs()["SN1"]
		if last := entries[len(entries)-1].Action; last != "Освобождено пользователем Один" {
			t.Errorf("log: got %q", last)
		}
	})
	checkInvariant(t, f.store)
}

func TestAdminRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	r, err := f.svc.Release(ctx, admin, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !r.ByAdmin {
		t.Error("want ByAdmin")
	}
	if got := f.note.to(u1); len(got) != 1 {
		t.Errorf("former owner must be notified, got %v", got)
	}
	f.store.View(func(v *storage.Snapshot) {
		entries := v.Logs()["SN1"]
		if last := entries[len(entries)-1].Action; last != "Освобождено администратором" {
			t.Errorf("log: got %q", last)
		}
	})
}

func TestReleaseByOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.ReleaseByOperator(ctx, 1); !errors.Is(err, ErrNotBooked) {
		t.Fatalf("free device: want ErrNotBooked, got %v", err)
	}
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	r, err := f.svc.ReleaseByOperator(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !r.ByAdmin || r.FormerOwner != u1 {
		t.Errorf("unexpected result: %+v", r)
	}
	if got := f.note.to(u1); len(got) != 1 {
		t.Errorf("former owner must be notified, got %v", got)
	}
	if f.svc.Scheduler().Pending() != 0 {
		t.Error("reminder must be cancelled")
	}
	checkInvariant(t, f.store)
}

func TestReleaseAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, b := range []struct{ user, dev int64 }{{u1, 1}, {u1, 2}, {u2, 3}} {
		if _, err := f.svc.Book(ctx, b.user, b.dev); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := f.svc.ReleaseAll(ctx, u1); err == nil {
		t.Error("non-admin mass release must fail")
	}

	owned, err := f.svc.ReleaseAllOwned(ctx, u1)
	if err != nil || len(owned) != 2 {
		t.Fatalf("ReleaseAllOwned: %d, %v", len(owned), err)
	}
	all, err := f.svc.ReleaseAll(ctx, admin)
	if err != nil || len(all) != 1 || all[0].FormerOwner != u2 {
		t.Fatalf("ReleaseAll: %+v, %v", all, err)
	}
	f.store.View(func(v *storage.Snapshot) {
		entries := v.Logs()["SN3"]
		if last := entries[len(entries)-1].Action; last != "Освобождено администратором (массово)" {
			t.Errorf("log: got %q", last)
		}
	})
	if f.svc.Scheduler().Pending() != 0 {
		t.Error("all reminders must be cancelled")
	}
	checkInvariant(t, f.store)
}

func TestBookFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BookFor(ctx, u1, u2, 1); err == nil {
		t.Error("non-admin BookFor must fail")
	}
	// группа не проверяется
	b, err := f.svc.BookFor(ctx, admin, uG2, 1)
	if err != nil {
		t.Fatalf("BookFor: %v", err)
	}
	if b.Owner != uG2 {
		t.Errorf("owner: want %d, got %d", uG2, b.Owner)
	}
	if got := f.note.to(uG2); len(got) != 1 {
		t.Errorf("target must be notified, got %v", got)
	}
	if _, err := f.svc.BookFor(ctx, admin, u2, 1); !errors.Is(err, ErrAlreadyBooked) {
		t.Errorf("want ErrAlreadyBooked, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Book(ctx, u1, 5); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(25 * time.Hour)
	expired, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].Device.ID != 1 || expired[0].Owner != u1 {
		t.Fatalf("want device 1 expired, got %+v", expired)
	}
	if d := f.device(1); d.IsBooked() || d.OwnerID != nil || d.Expiration != nil {
		t.Errorf("expired device must be free: %+v", d)
	}
	if d := f.device(5); !d.IsBooked() {
		t.Error("future booking must not be touched")
	}
	f.store.View(func(v *storage.Snapshot) {
		entries := v.Logs()["SN1"]
		if last := entries[len(entries)-1].Action; last != expiredAction {
			t.Errorf("log: got %q", last)
		}
	})
	checkInvariant(t, f.store)
}

func TestSweepPastBookingOnDisk(t *testing.T) {
	f := newFixture(t)
	past := f.clk.Now().Add(-time.Hour)
	_ = f.store.Update(func(tx *storage.Tx) error {
		tx.Device(1).Book(u1, past)
		tx.Touch(storage.Devices)
		return nil
	})
	if _, err := f.svc.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	d := f.device(1)
	if d.Status != models.DeviceFree || d.OwnerID != nil {
		t.Errorf("want free, got %+v", d)
	}
	f.store.View(func(v *storage.Snapshot) {
		if len(v.Logs()["SN1"]) != 1 {
			t.Error("log entry for SN1 expected")
		}
	})
}

func TestListingsSweepFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	if got := f.svc.UserDevices(ctx, u1); len(got) != 1 {
		t.Fatalf("want 1 device, got %d", len(got))
	}
	f.clk.Advance(48 * time.Hour)
	if got := f.svc.UserDevices(ctx, u1); len(got) != 0 {
		t.Errorf("expired booking must disappear from listings, got %d", len(got))
	}
	if got := f.svc.VisibleDevices(ctx, uG2); len(got) != 1 || got[0].ID != 4 {
		t.Errorf("visible for G2: %+v", got)
	}
	if got := f.svc.VisibleDevices(ctx, admin); len(got) != 5 {
		t.Errorf("admin sees all, got %d", len(got))
	}
}

func TestReminderStaleDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.Book(ctx, u1, 1)
	if err != nil {
		t.Fatal(err)
	}
	key := reminder.NewKey(1, u1, b.Until)

	f.svc.fireReminder(key)
	if got := f.note.to(u1); len(got) != 1 || !strings.HasPrefix(got[0], "Напоминание: срок бронирования устройства DevSN1 (SN: SN1)") {
		t.Fatalf("reminder: %v", got)
	}

	if _, err := f.svc.Release(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(time.Minute)
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	// старый ключ не совпадает с новой бронью
	f.svc.fireReminder(key)
	if got := f.note.to(u1); len(got) != 1 {
		t.Errorf("stale reminder must be dropped, got %d messages", len(got))
	}
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.Book(ctx, u1, 1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.RequestTransfer(ctx, u1, 1); !errors.Is(err, ErrSelfTransfer) {
		t.Errorf("self transfer: want ErrSelfTransfer, got %v", err)
	}
	if _, err := f.svc.RequestTransfer(ctx, u2, 2); !errors.Is(err, ErrNotBooked) {
		t.Errorf("free device: want ErrNotBooked, got %v", err)
	}
	req, err := f.svc.RequestTransfer(ctx, u2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if req.OwnerID != u1 || req.RequesterName != "Два" {
		t.Errorf("unexpected request %+v", req)
	}

	if _, err := f.svc.ConfirmTransfer(ctx, u2, 1, u2); !errors.Is(err, ErrTransferNotFound) {
		t.Errorf("confirm by non-owner: want ErrTransferNotFound, got %v", err)
	}
	tr, err := f.svc.ConfirmTransfer(ctx, u1, 1, u2)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	d := f.device(1)
	if d.Owner() != u2 || !d.ExpiresAt().Equal(b.Until) {
		t.Errorf("owner must change, expiration kept: %+v", d)
	}
	if tr.FromName != "Один" || tr.ToName != "Два" {
		t.Errorf("names: %+v", tr)
	}
	f.store.View(func(v *storage.Snapshot) {
		entries := v.Logs()["SN1"]
		if last := entries[len(entries)-1].Action; last != "Передано от Один к Два" {
			t.Errorf("log: got %q", last)
		}
	})
	if _, err := f.svc.ConfirmTransfer(ctx, u1, 1, u2); !errors.Is(err, ErrTransferNotFound) {
		t.Errorf("repeated confirm: want ErrTransferNotFound, got %v", err)
	}
	if f.svc.Scheduler().Pending() != 1 {
		t.Error("reminder must move to the new owner")
	}
}

func TestTransferLimitAndReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, b := range []struct{ user, dev int64 }{{u1, 1}, {u2, 2}, {u2, 3}} {
		if _, err := f.svc.Book(ctx, b.user, b.dev); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.RequestTransfer(ctx, u2, 1); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.ConfirmTransfer(ctx, u1, 1, u2)
	var le *LimitError
	if !errors.As(err, &le) || !le.Other {
		t.Fatalf("want new owner limit error, got %v", err)
	}
	if d := f.device(1); d.Owner() != u1 {
		t.Error("failed transfer must not change owner")
	}

	req, err := f.svc.RejectTransfer(ctx, u1, 1, u2)
	if err != nil {
		t.Fatal(err)
	}
	if req.RequesterID != u2 {
		t.Errorf("requester: %d", req.RequesterID)
	}
	if _, err := f.svc.RejectTransfer(ctx, u1, 1, u2); !errors.Is(err, ErrTransferNotFound) {
		t.Errorf("second reject: want ErrTransferNotFound, got %v", err)
	}
	if d := f.device(1); d.Owner() != u1 {
		t.Error("reject must not change state")
	}
}

func TestTransferRespectsGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}

	var de *access.DeniedError
	if _, err := f.svc.RequestTransfer(ctx, uG2, 1); !errors.As(err, &de) || de.Reason != access.GroupMismatch {
		t.Fatalf("other group: want DeniedError, got %v", err)
	}
	if _, err := f.svc.RequestTransfer(ctx, uNone, 1); !errors.As(err, &de) || de.Reason != access.NoUserGroup {
		t.Fatalf("no group: want DeniedError, got %v", err)
	}

	// запрос принят, а к подтверждению пользователь сменил группу
	if _, err := f.svc.RequestTransfer(ctx, u2, 1); err != nil {
		t.Fatal(err)
	}
	err := f.store.Update(func(tx *storage.Tx) error {
		tx.User(u2).GroupID = ptr(int64(2))
		tx.Touch(storage.Users)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmTransfer(ctx, u1, 1, u2); !errors.As(err, &de) {
		t.Fatalf("confirm across groups: want DeniedError, got %v", err)
	}
	if d := f.device(1); d.Owner() != u1 {
		t.Errorf("owner changed to %d", d.Owner())
	}
}

func TestTransferInactiveRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RequestTransfer(ctx, u2, 1); err != nil {
		t.Fatal(err)
	}
	err := f.store.Update(func(tx *storage.Tx) error {
		tx.User(u2).Status = models.UserBlocked
		tx.Touch(storage.Users)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmTransfer(ctx, u1, 1, u2); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("blocked requester: want ErrUserInactive, got %v", err)
	}
	if _, err := f.svc.RequestTransfer(ctx, u2, 1); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("blocked requester: want ErrUserInactive, got %v", err)
	}
}

func TestTransferDroppedWithExpiredBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RequestTransfer(ctx, u2, 1); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(25 * time.Hour)
	// повторная бронь сначала снимает просроченную
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmTransfer(ctx, u1, 1, u2); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("request for the old booking: want ErrTransferNotFound, got %v", err)
	}
	if d := f.device(1); d.Owner() != u1 {
		t.Errorf("owner: want %d, got %d", u1, d.Owner())
	}
	if n := f.svc.Scheduler().Pending(); n != 1 {
		t.Errorf("pending reminders: want 1, got %d", n)
	}
}

func TestBookSurvivesHistoryWriteFailure(t *testing.T) {
	f := newFixture(t)
	logsPath := filepath.Join(f.store.Dir(), storage.LogsFile)
	if err := os.RemoveAll(logsPath); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(logsPath, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logsPath, "keep"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Book(context.Background(), u1, 1); err != nil {
		t.Fatalf("booking is on disk, history failure must not fail it: %v", err)
	}
	if d := f.device(1); d.Owner() != u1 {
		t.Errorf("owner: want %d, got %d", u1, d.Owner())
	}
	if n := f.svc.Scheduler().Pending(); n != 1 {
		t.Errorf("reminder must be scheduled, pending %d", n)
	}
}

func TestForgetDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Book(ctx, u1, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RequestTransfer(ctx, u2, 1); err != nil {
		t.Fatal(err)
	}

	if n := f.svc.ForgetDevice(1); n != 1 {
		t.Fatalf("cancelled reminders: want 1, got %d", n)
	}
	if n := f.svc.Scheduler().Pending(); n != 1 {
		t.Errorf("reminder of device 2 must survive, pending %d", n)
	}
	if _, err := f.svc.ConfirmTransfer(ctx, u1, 1, u2); !errors.Is(err, ErrTransferNotFound) {
		t.Errorf("transfer of forgotten device: want ErrTransferNotFound, got %v", err)
	}
	if n := f.svc.ForgetDevice(1); n != 0 {
		t.Errorf("second call: want 0, got %d", n)
	}
}

func TestTransferStaleBookingKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Book(ctx, u1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RequestTransfer(ctx, u2, 1); err != nil {
		t.Fatal(err)
	}
	// срок брони сдвинут в обход сервиса
	err := f.store.Update(func(tx *storage.Tx) error {
		d := tx.Device(1)
		d.Book(u1, d.ExpiresAt().Add(time.Hour))
		tx.Touch(storage.Devices)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmTransfer(ctx, u1, 1, u2); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("want ErrTransferNotFound, got %v", err)
	}
	if _, err := f.svc.RejectTransfer(ctx, u1, 1, u2); !errors.Is(err, ErrTransferNotFound) {
		t.Errorf("stale request must be dropped, got %v", err)
	}
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, u := range []int64{u1, u2, admin} {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			if _, err := f.svc.Book(ctx, uid, 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("want exactly one successful booking, got %d", wins)
	}
	checkInvariant(t, f.store)
}
