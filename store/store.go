// Package store provides persisted client state for the Ovvio VPN client.
// Selection, favourites, session timing, and account data live in a
// small SQLite database in the user's data directory, so they survive
// process restarts.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ovvio/vpn-client/common"
)

// Logical keys for every persisted value.
const (
	keySelectedID     = "selected_server_id"
	keySelectedSubID  = "selected_server_sub_id"
	keySelectedIP     = "selected_server_ip"
	keySelectedDomain = "selected_server_domain"
	keySelectedName   = "selected_server_name"
	keySelectedImage  = "selected_server_image"
	keySelectedTier   = "selected_server_tier"
	keySessionStart   = "session_start"
	keyFavourites     = "favourite_server_ids"
	keyDeviceID       = "device_id"
	keyAccountName    = "account_name"
	keyAccountToken   = "account_token"
	keyAccountPremium = "account_premium"
)

// Selection is the persisted record of the server the user last chose.
// It is overwritten on every selection and deliberately never cleared on
// disconnect, so reconnecting picks up where the user left off.
type Selection struct {
	EndpointID  int
	SubServerID int
	IP          string
	Domain      string
	DisplayName string
	ImageURL    string
	Tier        string
}

// Account is the signed-in user as far as the VPN core cares: the name
// the client identity is derived from, the API token, and the premium
// entitlement.
type Account struct {
	Name    string
	Token   string
	Premium bool
}

// Store is a key/value state store backed by SQLite.
// All reads and writes go through the single *sql.DB handle; callers
// are expected to use it from one goroutine at a time.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the state database at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenDefault opens the state database in the application data directory.
func OpenDefault() (*Store, error) {
	dataDir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(dataDir, common.StateFileName))
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (s *Store) delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, key)
	return err
}

// SaveSelection persists the selected server, overwriting any previous
// selection.
func (s *Store) SaveSelection(sel Selection) error {
	pairs := map[string]string{
		keySelectedID:     strconv.Itoa(sel.EndpointID),
		keySelectedSubID:  strconv.Itoa(sel.SubServerID),
		keySelectedIP:     sel.IP,
		keySelectedDomain: sel.Domain,
		keySelectedName:   sel.DisplayName,
		keySelectedImage:  sel.ImageURL,
		keySelectedTier:   sel.Tier,
	}
	for key, value := range pairs {
		if err := s.set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Selection returns the persisted selection, if any. A selection is
// considered present only when both an IP and a domain were saved.
func (s *Store) Selection() (Selection, bool, error) {
	ip, okIP, err := s.get(keySelectedIP)
	if err != nil {
		return Selection{}, false, err
	}
	domain, okDomain, err := s.get(keySelectedDomain)
	if err != nil {
		return Selection{}, false, err
	}
	if !okIP || !okDomain || ip == "" || domain == "" {
		return Selection{}, false, nil
	}

	sel := Selection{IP: ip, Domain: domain}
	if v, ok, _ := s.get(keySelectedID); ok {
		sel.EndpointID, _ = strconv.Atoi(v)
	}
	if v, ok, _ := s.get(keySelectedSubID); ok {
		sel.SubServerID, _ = strconv.Atoi(v)
	}
	if v, ok, _ := s.get(keySelectedName); ok {
		sel.DisplayName = v
	}
	if v, ok, _ := s.get(keySelectedImage); ok {
		sel.ImageURL = v
	}
	if v, ok, _ := s.get(keySelectedTier); ok {
		sel.Tier = v
	}
	return sel, true, nil
}

// SetSessionStart persists the wall-clock moment the current session
// began, so elapsed time survives a process restart.
func (s *Store) SetSessionStart(t time.Time) error {
	return s.set(keySessionStart, strconv.FormatInt(t.Unix(), 10))
}

// SessionStart returns the persisted session start, if any.
func (s *Store) SessionStart() (time.Time, bool, error) {
	v, ok, err := s.get(keySessionStart)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(unix, 0), true, nil
}

// ClearSessionStart removes the persisted session start.
func (s *Store) ClearSessionStart() error {
	return s.delete(keySessionStart)
}

// SetFavourites persists the favourite endpoint id set.
func (s *Store) SetFavourites(ids []int) error {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return err
	}
	return s.set(keyFavourites, string(data))
}

// Favourites returns the persisted favourite endpoint ids. Stale ids
// referencing servers that no longer exist are returned as-is; they
// simply never match a catalog entry.
func (s *Store) Favourites() ([]int, error) {
	v, ok, err := s.get(keyFavourites)
	if err != nil || !ok {
		return nil, err
	}
	var ids []int
	if err := json.Unmarshal([]byte(v), &ids); err != nil {
		return nil, nil
	}
	return ids, nil
}

// DeviceID returns the stable per-install identifier, generating and
// persisting one on first use.
func (s *Store) DeviceID() (string, error) {
	v, ok, err := s.get(keyDeviceID)
	if err != nil {
		return "", err
	}
	if ok && v != "" {
		return v, nil
	}

	id := uuid.NewString()
	if err := s.set(keyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// SetAccount persists the signed-in account.
func (s *Store) SetAccount(acc Account) error {
	if err := s.set(keyAccountName, acc.Name); err != nil {
		return err
	}
	if err := s.set(keyAccountToken, acc.Token); err != nil {
		return err
	}
	return s.set(keyAccountPremium, strconv.FormatBool(acc.Premium))
}

// Account returns the persisted account, if any.
func (s *Store) Account() (Account, bool, error) {
	name, okName, err := s.get(keyAccountName)
	if err != nil {
		return Account{}, false, err
	}
	token, okToken, err := s.get(keyAccountToken)
	if err != nil {
		return Account{}, false, err
	}
	if !okName || !okToken || name == "" || token == "" {
		return Account{}, false, nil
	}

	acc := Account{Name: name, Token: token}
	if v, ok, _ := s.get(keyAccountPremium); ok {
		acc.Premium, _ = strconv.ParseBool(v)
	}
	return acc, true, nil
}

// ClearAccount removes the persisted account.
func (s *Store) ClearAccount() error {
	for _, key := range []string{keyAccountName, keyAccountToken, keyAccountPremium} {
		if err := s.delete(key); err != nil {
			return err
		}
	}
	return nil
}

// IsPremium reports the persisted premium entitlement. It satisfies
// common.Entitlements.
func (s *Store) IsPremium() bool {
	acc, ok, err := s.Account()
	if err != nil || !ok {
		return false
	}
	return acc.Premium
}
