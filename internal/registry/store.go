package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thereceipt/posbridge/internal/device"
)

// Persister loads and saves remembered devices keyed by id.
type Persister interface {
	Load() (map[string]Record, error)
	Save(records map[string]Record) error
}

// Record is the persisted form of a remembered device. Reachability is live
// state and is never stored.
type Record struct {
	Kind         device.Kind         `json:"kind"`
	Transport    device.Transport    `json:"transport"`
	DisplayName  string              `json:"display_name"`
	CustomName   string              `json:"custom_name,omitempty"`
	Capabilities device.Capabilities `json:"capabilities"`
	LastSeen     time.Time           `json:"last_seen,omitempty"`
	VID          uint16              `json:"vid,omitempty"`
	PID          uint16              `json:"pid,omitempty"`
	Host         string              `json:"host,omitempty"`
	Port         int                 `json:"port,omitempty"`
	Address      string              `json:"address,omitempty"`
	Path         string              `json:"path,omitempty"`
	Driver       string              `json:"driver,omitempty"`
}

type storeFile struct {
	Devices map[string]Record `json:"devices"`
}

// Store keeps remembered devices in a single JSON document.
type Store struct {
	filePath string
	mu       sync.Mutex
}

// NewStore returns a store backed by filePath. The file is created on the
// first save.
func NewStore(filePath string) *Store {
	return &Store{filePath: filePath}
}

// Load reads the document. A missing file is an empty registry.
func (s *Store) Load() (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("failed to read device store: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse device store: %w", err)
	}
	if f.Devices == nil {
		f.Devices = map[string]Record{}
	}
	return f.Devices, nil
}

// Save replaces the document with records.
func (s *Store) Save(records map[string]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(storeFile{Devices: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal device store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write device store: %w", err)
	}
	return os.Rename(tmp, s.filePath)
}

func (r Record) toDevice(id string) device.LogicalDevice {
	d := device.LogicalDevice{
		ID:           id,
		Kind:         r.Kind,
		Transport:    r.Transport,
		DisplayName:  r.DisplayName,
		Capabilities: r.Capabilities,
		LastSeen:     r.LastSeen,
		Configured:   true,
		VendorID:     r.VID,
		ProductID:    r.PID,
		Host:         r.Host,
		Port:         r.Port,
		Address:      r.Address,
		Path:         r.Path,
		Driver:       r.Driver,
	}
	if r.CustomName != "" {
		d.DisplayName = r.CustomName
	}
	if d.Kind == "" {
		d.Kind = device.KindPrinter
	}
	return d
}
