package database

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/internal/wire"
)

// metadataIndex is the optional implementation-defined index mentioned for
// the Report Database's on-disk layout. It stores one JSON-encoded Report
// per file under metadata/, named by uuid, written via a temp-file-plus-
// same-volume-rename so a concurrent reader in another process never
// observes a torn file. An embedded single-process store such as badger
// takes an exclusive lock on its directory for as long as it is open, which
// would make it impossible for a second handler, uploader, or prune process
// to initialize a Database against the same root at the same time; plain
// files with atomic rename carry no such restriction.
type metadataIndex struct {
	dir string
}

func openMetadataIndex(path string) (*metadataIndex, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return &metadataIndex{dir: path}, nil
}

func (m *metadataIndex) Close() error {
	return nil
}

func (m *metadataIndex) reportPath(id wire.UUID) string {
	return filepath.Join(m.dir, id.String()+".json")
}

func (m *metadataIndex) put(r Report) error {
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(m.dir, r.UUID.String()+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(val); err != nil {
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
	return os.Rename(tmp.Name(), m.reportPath(r.UUID))
}

func (m *metadataIndex) get(id wire.UUID) (Report, bool, error) {
	data, err := os.ReadFile(m.reportPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, false, nil
		}
		return Report{}, false, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, false, crashcore.Wrap("metadataIndex.get", crashcore.ErrCorrupt)
	}
	return r, true, nil
}

func (m *metadataIndex) delete(id wire.UUID) error {
	if err := os.Remove(m.reportPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// list returns every report whose State is in the given set, or every
// report if states is nil. Entries that vanish or fail to parse between the
// directory listing and the read (a concurrent delete, or a writer's
// temp file not yet renamed) are skipped rather than failing the whole
// scan.
func (m *metadataIndex) list(states map[State]bool) ([]Report, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var out []Report
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, ent.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		if states == nil || states[r.State] {
			out = append(out, r)
		}
	}
	return out, nil
}
