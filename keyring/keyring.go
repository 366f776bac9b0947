// Package keyring provides secure secret storage for the Ovvio VPN client.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/ovvio/vpn-client/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "ovvio-vpn"
)

// Common errors returned by keyring operations.
var (
	ErrNotFound    = errors.New("secret not found")
	ErrUnavailable = errors.New("keyring service unavailable")
)

// Storage backend state
var (
	useLocalStorage bool
	localStoreMu    sync.RWMutex
	localStore      map[string]string
	localStoreFile  string
	encryptionKey   []byte
	initOnce        sync.Once
)

func initStorage() {
	// Probe the system keyring; fall back to the encrypted file store
	// when it is unreachable (headless hosts, missing DBus, ...).
	testKey := "ovvio-vpn-test-init"
	err := keyring.Set(serviceName, testKey, "test")
	if err == nil {
		keyring.Delete(serviceName, testKey)
		useLocalStorage = false
	} else {
		useLocalStorage = true
		initLocalStorage()
	}
}

func initLocalStorage() {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".config", common.ConfigDirName)
	os.MkdirAll(configDir, 0700)
	localStoreFile = filepath.Join(configDir, common.CredentialsFileName)

	// Derive the encryption key from machine-specific data so the file
	// is not portable between hosts.
	hostname, _ := os.Hostname()
	machineID := getMachineID()
	keyData := fmt.Sprintf("%s-%s-%s-%d", serviceName, hostname, machineID, os.Getuid())
	hash := sha256.Sum256([]byte(keyData))
	encryptionKey = hash[:]

	localStore = make(map[string]string)
	loadLocalStore()
}

func getMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func loadLocalStore() {
	data, err := os.ReadFile(localStoreFile)
	if err != nil {
		return
	}

	decrypted, err := decrypt(data)
	if err != nil {
		return
	}

	json.Unmarshal(decrypted, &localStore)
}

func saveLocalStore() error {
	localStoreMu.RLock()
	data, err := json.Marshal(localStore)
	localStoreMu.RUnlock()
	if err != nil {
		return err
	}

	encrypted, err := encrypt(data)
	if err != nil {
		return err
	}

	return os.WriteFile(localStoreFile, encrypted, 0600)
}

func encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Keyring is the system-backed secret store. It satisfies
// common.SecretStore so the connection manager can be given a fake in
// tests.
type Keyring struct{}

// New returns the process-wide secret store, initializing the backend
// on first use.
func New() *Keyring {
	initOnce.Do(initStorage)
	return &Keyring{}
}

// Put saves a secret under the given key.
func (k *Keyring) Put(key, value string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if value == "" {
		return errors.New("value cannot be empty")
	}

	if useLocalStorage {
		localStoreMu.Lock()
		localStore[key] = value
		localStoreMu.Unlock()
		return saveLocalStore()
	}

	if err := keyring.Set(serviceName, key, value); err != nil {
		// Fallback to local storage
		useLocalStorage = true
		initLocalStorage()
		localStoreMu.Lock()
		localStore[key] = value
		localStoreMu.Unlock()
		return saveLocalStore()
	}
	return nil
}

// Get retrieves a secret by key.
func (k *Keyring) Get(key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}

	if useLocalStorage {
		localStoreMu.RLock()
		value, exists := localStore[key]
		localStoreMu.RUnlock()
		if !exists {
			return "", ErrNotFound
		}
		return value, nil
	}

	value, err := keyring.Get(serviceName, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", ErrNotFound
		}
		// Try local storage as fallback
		localStoreMu.RLock()
		value, exists := localStore[key]
		localStoreMu.RUnlock()
		if exists {
			return value, nil
		}
		return "", ErrNotFound
	}
	return value, nil
}

// Delete removes a secret by key.
func (k *Keyring) Delete(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	if useLocalStorage {
		localStoreMu.Lock()
		delete(localStore, key)
		localStoreMu.Unlock()
		return saveLocalStore()
	}

	keyring.Delete(serviceName, key)

	// Also remove from local storage if present
	localStoreMu.Lock()
	delete(localStore, key)
	localStoreMu.Unlock()
	saveLocalStore()

	return nil
}
