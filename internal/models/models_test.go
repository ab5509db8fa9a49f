package models

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseMoment(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-01T10:00:00Z", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-03-01T10:00:00+03:00", time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)},
		{"2025-03-01T10:00:00.123456", time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.Local)},
		{"2025-03-01T10:00:00", time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)},
	}
	for _, tt := range tests {
		got, err := ParseMoment(tt.in)
		if err != nil {
			t.Fatalf("ParseMoment(%q): %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseMoment(%q): want %v, got %v", tt.in, tt.want, got)
		}
	}
	if _, err := ParseMoment("yesterday"); err == nil {
		t.Error("want error for garbage input")
	}
}

func TestDeviceJSONInvariant(t *testing.T) {
	d := Device{ID: 1, Name: "Pixel", SN: "SN1", Type: "Phone", Status: DeviceFree}
	until := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	d.Book(42, until)
	if !d.BookedBy(42) || d.BookedBy(7) {
		t.Fatalf("BookedBy mismatch: %+v", d)
	}

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var back Device
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Owner() != 42 || !back.ExpiresAt().Equal(until) {
		t.Errorf("round trip lost booking: %s", b)
	}

	back.Free()
	b, _ = json.Marshal(back)
	var raw map[string]any
	_ = json.Unmarshal(b, &raw)
	if _, ok := raw["user_id"]; ok {
		t.Errorf("free device must not carry user_id: %s", b)
	}
	if _, ok := raw["booking_expiration"]; ok {
		t.Errorf("free device must not carry booking_expiration: %s", b)
	}
}

func TestDeviceNormalize(t *testing.T) {
	owner := int64(3)
	d := Device{Status: DeviceBooked, OwnerID: &owner}
	d.Normalize()
	if d.Status != DeviceFree || d.OwnerID != nil {
		t.Errorf("half-booked device must be freed, got %+v", d)
	}
}

func TestUserFullName(t *testing.T) {
	cases := []struct {
		u    *User
		want string
	}{
		{nil, "Неизвестно"},
		{&User{FirstName: "Иван", LastName: "Иванов"}, "Иван Иванов"},
		{&User{FirstName: "Иван", DisplayName: "Ваня"}, "Ваня"},
		{&User{Username: "ivan"}, "@ivan"},
		{&User{}, "Неизвестно"},
	}
	for _, c := range cases {
		if got := c.u.FullName(); got != c.want {
			t.Errorf("FullName: want %q, got %q", c.want, got)
		}
	}
}

func TestWriteProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set(RequestIDHeader, "req-1")
	WriteProblem(rec, httptest.NewRequest(http.MethodGet, "/admin/api/devices/9?x=1", nil), http.StatusNotFound, "device not found")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type: %q", ct)
	}
	var got APIError
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := APIError{Title: "Not Found", Status: 404, Detail: "device not found", Path: "/admin/api/devices/9", RequestID: "req-1"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
