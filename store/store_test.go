package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSelection_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.Selection(); err != nil || ok {
		t.Fatalf("Selection() on empty store = ok=%v err=%v, want absent", ok, err)
	}

	sel := Selection{
		EndpointID:  42,
		SubServerID: 7,
		IP:          "203.0.113.10",
		Domain:      "nl-ams-1.ovviovpn.com",
		DisplayName: "Netherlands - Amsterdam",
		ImageURL:    "https://cdn.example.com/nl.png",
		Tier:        "premium",
	}
	if err := s.SaveSelection(sel); err != nil {
		t.Fatalf("SaveSelection() error = %v", err)
	}

	got, ok, err := s.Selection()
	if err != nil || !ok {
		t.Fatalf("Selection() = ok=%v err=%v, want present", ok, err)
	}
	if got != sel {
		t.Errorf("Selection() = %+v, want %+v", got, sel)
	}

	// Overwrite keeps only the newest record.
	sel2 := sel
	sel2.EndpointID = 43
	sel2.DisplayName = "Netherlands - Rotterdam"
	if err := s.SaveSelection(sel2); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Selection()
	if got != sel2 {
		t.Errorf("Selection() after overwrite = %+v, want %+v", got, sel2)
	}
}

func TestSessionStart(t *testing.T) {
	s := openTestStore(t)

	if _, ok, _ := s.SessionStart(); ok {
		t.Fatal("SessionStart() on empty store should be absent")
	}

	start := time.Now().Add(-90 * time.Second).Truncate(time.Second)
	if err := s.SetSessionStart(start); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.SessionStart()
	if err != nil || !ok {
		t.Fatalf("SessionStart() = ok=%v err=%v", ok, err)
	}
	if !got.Equal(start) {
		t.Errorf("SessionStart() = %v, want %v", got, start)
	}

	if err := s.ClearSessionStart(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.SessionStart(); ok {
		t.Error("SessionStart() should be absent after ClearSessionStart")
	}
}

func TestFavourites(t *testing.T) {
	s := openTestStore(t)

	ids, err := s.Favourites()
	if err != nil || len(ids) != 0 {
		t.Fatalf("Favourites() on empty store = %v, %v", ids, err)
	}

	if err := s.SetFavourites([]int{9, 3, 12}); err != nil {
		t.Fatal(err)
	}

	ids, err = s.Favourites()
	if err != nil {
		t.Fatal(err)
	}
	want := []int{3, 9, 12}
	if len(ids) != len(want) {
		t.Fatalf("Favourites() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Favourites()[%d] = %v, want %v", i, ids[i], want[i])
		}
	}
}

func TestDeviceID_Stable(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.DeviceID()
	if err != nil {
		t.Fatal(err)
	}
	if id1 == "" {
		t.Fatal("DeviceID() returned empty id")
	}

	id2, err := s.DeviceID()
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("DeviceID() not stable: %q != %q", id1, id2)
	}
}

func TestAccount(t *testing.T) {
	s := openTestStore(t)

	if _, ok, _ := s.Account(); ok {
		t.Fatal("Account() on empty store should be absent")
	}
	if s.IsPremium() {
		t.Error("IsPremium() should be false with no account")
	}

	acc := Account{Name: "alice", Token: "tok-123", Premium: true}
	if err := s.SetAccount(acc); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Account()
	if err != nil || !ok {
		t.Fatalf("Account() = ok=%v err=%v", ok, err)
	}
	if got != acc {
		t.Errorf("Account() = %+v, want %+v", got, acc)
	}
	if !s.IsPremium() {
		t.Error("IsPremium() should reflect the stored entitlement")
	}

	if err := s.ClearAccount(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Account(); ok {
		t.Error("Account() should be absent after ClearAccount")
	}
}
