package session

import (
	"errors"
	"testing"

	"devbook/internal/models"
)

func TestAddDeviceFlow(t *testing.T) {
	m := NewManager()
	const chat = 1

	if _, ok := m.Get(chat).(Idle); !ok {
		t.Fatal("new chat must be idle")
	}
	steps := []State{
		AddDeviceName{},
		AddDeviceSN{DeviceName: "iPhone"},
		AddDeviceType{DeviceName: "iPhone", SN: "SN1"},
		AddDeviceGroup{DeviceName: "iPhone", SN: "SN1", Type: "Phone"},
	}
	for _, s := range steps {
		if err := m.Set(chat, s); err != nil {
			t.Fatalf("set %s: %v", s.Name(), err)
		}
	}
	got, ok := m.Get(chat).(AddDeviceGroup)
	if !ok || got.Type != "Phone" || got.SN != "SN1" {
		t.Errorf("state carries collected fields: %+v", m.Get(chat))
	}
	if err := m.Set(chat, Idle{}); err != nil {
		t.Fatal(err)
	}
	if m.Active() != 0 {
		t.Error("idle chats must not be stored")
	}
}

func TestInvalidTransitions(t *testing.T) {
	m := NewManager()
	var te *TransitionError
	if err := m.Set(1, AddDeviceType{}); !errors.As(err, &te) {
		t.Errorf("skip step: want TransitionError, got %v", err)
	}
	if err := m.Set(1, AddUserGroup{}); err == nil {
		t.Error("user group step needs a draft")
	}
	_ = m.Set(1, AddUserByID{})
	if err := m.Set(1, AddUserGroup{Draft: models.User{UserID: 5}}); err != nil {
		t.Errorf("from by-id step: %v", err)
	}
	// новый диалог можно начать поверх незаконченного
	if err := m.Set(1, EditDevice{ID: 3}); err != nil {
		t.Errorf("restart flow: %v", err)
	}
}

func TestAccepts(t *testing.T) {
	if (AwaitImport{}).Accepts(TextInput) || !(AwaitImport{}).Accepts(DocumentInput) {
		t.Error("import waits for a document")
	}
	if (AddGroupName{}).Accepts(DocumentInput) {
		t.Error("text states reject documents")
	}
	if !(RegSelectGroup{}).Accepts(CallbackInput) || (RegSelectGroup{}).Accepts(TextInput) {
		t.Error("group selection is a button press")
	}
	if !(Idle{}).Accepts(TextInput) {
		t.Error("idle accepts search text")
	}
}

func TestChatsIndependent(t *testing.T) {
	m := NewManager()
	_ = m.Set(1, Scanning{})
	_ = m.Set(2, AwaitImport{})
	m.Reset(1)
	if _, ok := m.Get(1).(Idle); !ok {
		t.Error("reset chat must be idle")
	}
	if _, ok := m.Get(2).(AwaitImport); !ok {
		t.Error("other chat must keep its state")
	}
}
