package db

import "testing"

func TestOpenDisabled(t *testing.T) {
	d, err := Open("", "")
	if err != nil || d != nil {
		t.Fatalf("empty driver: want nil, nil; got %v, %v", d, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("sqlite", "file.db"); err == nil {
		t.Fatal("want error for unsupported driver")
	}
}
