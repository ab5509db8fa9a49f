// Package session хранит состояние многошаговых диалогов (добавление устройства,
// редактирование пользователя и т.п.) для каждого чата.
package session

import "devbook/internal/models"

// Input: вид входящего события.
type Input int

const (
	TextInput Input = iota
	DocumentInput
	CallbackInput
)

// State: закрытый набор состояний диалога.
type State interface {
	Name() string
	// Accepts сообщает, какие события состояние обрабатывает.
	Accepts(in Input) bool
	sealed()
}

type (
	Idle           struct{}
	RegSelectGroup struct{}
	AddDeviceName  struct{}
	AddDeviceSN    struct{ DeviceName string }
	AddDeviceType  struct{ DeviceName, SN string }
	AddDeviceGroup struct{ DeviceName, SN, Type string }
	EditDevice     struct{ ID int64 }
	AddGroupName   struct{}
	RenameGroup    struct{ ID int64 }
	AddUserManual  struct{}
	AddUserByID    struct{}
	AddUserGroup   struct{ Draft models.User }
	EditUser       struct{ ID int64 }
	AwaitImport    struct{}
	Scanning       struct{}
)

func (Idle) Name() string           { return "idle" }
func (RegSelectGroup) Name() string { return "reg_select_group" }
func (AddDeviceName) Name() string  { return "add_device_name" }
func (AddDeviceSN) Name() string    { return "add_device_sn" }
func (AddDeviceType) Name() string  { return "add_device_type" }
func (AddDeviceGroup) Name() string { return "add_device_group" }
func (EditDevice) Name() string     { return "edit_device" }
func (AddGroupName) Name() string   { return "add_group_name" }
func (RenameGroup) Name() string    { return "rename_group" }
func (AddUserManual) Name() string  { return "add_user_manual" }
func (AddUserByID) Name() string    { return "add_user_by_id" }
func (AddUserGroup) Name() string   { return "add_user_group" }
func (EditUser) Name() string       { return "edit_user" }
func (AwaitImport) Name() string    { return "await_import" }
func (Scanning) Name() string       { return "scanning" }

func (Idle) Accepts(in Input) bool           { return true }
func (RegSelectGroup) Accepts(in Input) bool { return in == CallbackInput }
func (AddDeviceName) Accepts(in Input) bool  { return in == TextInput }
func (AddDeviceSN) Accepts(in Input) bool    { return in == TextInput }
func (AddDeviceType) Accepts(in Input) bool  { return in == TextInput }
func (AddDeviceGroup) Accepts(in Input) bool { return in == TextInput }
func (EditDevice) Accepts(in Input) bool     { return in == TextInput }
func (AddGroupName) Accepts(in Input) bool   { return in == TextInput }
func (RenameGroup) Accepts(in Input) bool    { return in == TextInput }
func (AddUserManual) Accepts(in Input) bool  { return in == TextInput }
func (AddUserByID) Accepts(in Input) bool    { return in == TextInput }
func (AddUserGroup) Accepts(in Input) bool   { return in == TextInput }
func (EditUser) Accepts(in Input) bool       { return in == TextInput }
func (AwaitImport) Accepts(in Input) bool    { return in == DocumentInput }
func (Scanning) Accepts(in Input) bool       { return in != DocumentInput }

func (Idle) sealed()           {}
func (RegSelectGroup) sealed() {}
func (AddDeviceName) sealed()  {}
func (AddDeviceSN) sealed()    {}
func (AddDeviceType) sealed()  {}
func (AddDeviceGroup) sealed() {}
func (EditDevice) sealed()     {}
func (AddGroupName) sealed()   {}
func (RenameGroup) sealed()    {}
func (AddUserManual) sealed()  {}
func (AddUserByID) sealed()    {}
func (AddUserGroup) sealed()   {}
func (EditUser) sealed()       {}
func (AwaitImport) sealed()    {}
func (Scanning) sealed()       {}

// canEnter: в Idle и в начало любого диалога можно из любого состояния,
// промежуточные шаги только из предыдущего шага.
func canEnter(from, to State) bool {
	switch to.(type) {
	case AddDeviceSN:
		_, ok := from.(AddDeviceName)
		return ok
	case AddDeviceType:
		_, ok := from.(AddDeviceSN)
		return ok
	case AddDeviceGroup:
		_, ok := from.(AddDeviceType)
		return ok
	case AddUserGroup:
		switch from.(type) {
		case AddUserManual, AddUserByID:
			return true
		}
		return false
	default:
		return true
	}
}
