package database

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/dolthub/fslock"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/internal/wire"
)

// settingsMagic and settingsVersion identify the settings file format, the
// way the original implementation's kSettingsMagic ('CPds') and
// kSettingsVersion tag its own Data struct.
const (
	settingsMagic   uint32 = 0x73645043
	settingsVersion uint32 = 1
	settingsSize           = 4 + 4 + 4 + 4 + 8 + 16 // magic, version, options, padding, last_upload_attempt_time, client_id

	optionUploadsEnabled uint32 = 1 << 0
)

// Settings is the handler-wide, cross-process-shared state: whether
// uploads are enabled, the stable client_id generated once at first
// initialization, and the last upload attempt time. Every access locks the
// settings file with an advisory file lock, then reads, mutates, and
// rewrites it whole, mirroring the original's
// OpenForWritingAndReadSettings/WriteSettings pairing.
type Settings struct {
	path string
}

type settingsData struct {
	options               uint32
	lastUploadAttemptTime int64
	clientID              wire.UUID
}

func openSettings(path string) (*Settings, error) {
	s := &Settings{path: path}
	lock := fslock.New(path + ".lock")
	if err := lock.LockWithTimeout(2 * time.Second); err != nil {
		return nil, crashcore.Wrap("Settings.Open", err)
	}
	defer lock.Unlock()

	data, err := readSettingsFile(path)
	if err != nil {
		clientID := wire.NewUUID()
		if !os.IsNotExist(err) {
			// Corrupt settings trigger reinitialization, preserving no
			// state except an existing client_id if it can still be read
			// out of the raw bytes.
			if raw, rerr := os.ReadFile(path); rerr == nil && len(raw) >= 40 {
				var recovered wire.UUID
				copy(recovered[:], raw[24:40])
				if !recovered.IsNil() {
					clientID = recovered
				}
			}
		}
		data = settingsData{
			options:               optionUploadsEnabled,
			lastUploadAttemptTime: 0,
			clientID:              clientID,
		}
		if werr := writeSettingsFile(path, data); werr != nil {
			return nil, crashcore.Wrap("Settings.Open", werr)
		}
	}
	return s, nil
}

func readSettingsFile(path string) (settingsData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return settingsData{}, err
	}
	if len(raw) != settingsSize {
		return settingsData{}, crashcore.New("Settings.Read", crashcore.CodeCorrupt, "settings file has wrong size")
	}
	magic := binary.LittleEndian.Uint32(raw[0:4])
	version := binary.LittleEndian.Uint32(raw[4:8])
	if magic != settingsMagic || version != settingsVersion {
		return settingsData{}, crashcore.New("Settings.Read", crashcore.CodeCorrupt, "settings magic/version mismatch")
	}
	var d settingsData
	d.options = binary.LittleEndian.Uint32(raw[8:12])
	d.lastUploadAttemptTime = int64(binary.LittleEndian.Uint64(raw[16:24]))
	copy(d.clientID[:], raw[24:40])
	return d, nil
}

// writeSettingsFile writes d via a temp file in the same directory followed
// by a same-volume rename, so a concurrent reader under the settings lock
// never observes a partially-written (truncated-in-place) file.
func writeSettingsFile(path string, d settingsData) error {
	buf := make([]byte, settingsSize)
	binary.LittleEndian.PutUint32(buf[0:4], settingsMagic)
	binary.LittleEndian.PutUint32(buf[4:8], settingsVersion)
	binary.LittleEndian.PutUint32(buf[8:12], d.options)
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(d.lastUploadAttemptTime))
	copy(buf[24:40], d.clientID[:])

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// withLock takes the whole-file advisory lock, exclusive for the duration of
// the read-modify-write, and rewrites the settings file.
func (s *Settings) withLock(fn func(d settingsData) (settingsData, error)) error {
	lock := fslock.New(s.path + ".lock")
	if err := lock.LockWithTimeout(2 * time.Second); err != nil {
		return crashcore.Wrap("Settings.withLock", err)
	}
	defer lock.Unlock()

	d, err := readSettingsFile(s.path)
	if err != nil {
		return crashcore.Wrap("Settings.withLock", err)
	}
	next, err := fn(d)
	if err != nil {
		return err
	}
	return writeSettingsFile(s.path, next)
}

// withReadLock takes the same whole-file advisory lock a writer would, so a
// reader never observes a torn write even though fslock does not expose a
// distinct shared-lock mode; the rename in writeSettingsFile already makes
// unlocked reads safe, but this keeps every access on one disciplined path.
func (s *Settings) withReadLock(fn func(d settingsData) error) error {
	lock := fslock.New(s.path + ".lock")
	if err := lock.LockWithTimeout(2 * time.Second); err != nil {
		return crashcore.Wrap("Settings.withReadLock", err)
	}
	defer lock.Unlock()

	d, err := readSettingsFile(s.path)
	if err != nil {
		return crashcore.Wrap("Settings.withReadLock", err)
	}
	return fn(d)
}

// GetUploadsEnabled reports whether automatic uploads are currently
// permitted.
func (s *Settings) GetUploadsEnabled() (bool, error) {
	var enabled bool
	err := s.withReadLock(func(d settingsData) error {
		enabled = d.options&optionUploadsEnabled != 0
		return nil
	})
	if err != nil {
		return false, crashcore.Wrap("Settings.GetUploadsEnabled", err)
	}
	return enabled, nil
}

// SetUploadsEnabled enables or disables automatic uploads.
func (s *Settings) SetUploadsEnabled(enabled bool) error {
	return s.withLock(func(d settingsData) (settingsData, error) {
		if enabled {
			d.options |= optionUploadsEnabled
		} else {
			d.options &^= optionUploadsEnabled
		}
		return d, nil
	})
}

// GetClientID returns the stable identifier generated once on first
// initialization of the settings file.
func (s *Settings) GetClientID() (wire.UUID, error) {
	var id wire.UUID
	err := s.withReadLock(func(d settingsData) error {
		id = d.clientID
		return nil
	})
	if err != nil {
		return wire.Nil, crashcore.Wrap("Settings.GetClientID", err)
	}
	return id, nil
}

// GetLastUploadAttemptTime returns the unix time of the most recent upload
// attempt across all reports, or 0 if none has occurred.
func (s *Settings) GetLastUploadAttemptTime() (int64, error) {
	var t int64
	err := s.withReadLock(func(d settingsData) error {
		t = d.lastUploadAttemptTime
		return nil
	})
	if err != nil {
		return 0, crashcore.Wrap("Settings.GetLastUploadAttemptTime", err)
	}
	return t, nil
}

// SetLastUploadAttemptTime records the unix time of the most recent upload
// attempt.
func (s *Settings) SetLastUploadAttemptTime(t int64) error {
	return s.withLock(func(d settingsData) (settingsData, error) {
		d.lastUploadAttemptTime = t
		return d, nil
	})
}
