// Package configversion implements the routing-substrate's Version Manager:
// a bounded, checksum-keyed history of configuration documents that
// supports diffing and rollback without persisting anything beyond the
// on-disk config file itself (routing-substrate spec §4.4).
package configversion

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ccrouter/gateway/internal/config"
)

// Source identifies what triggered a version to be recorded.
type Source string

// Recognized version sources.
const (
	SourceManual    Source = "manual"
	SourceFileWatch Source = "file-watch"
	SourceAPI       Source = "api"
	// SourceBackup marks a rollback's backup-* sentinel entry: a snapshot
	// of the version that was active immediately before a rollback,
	// retained purely for audit (routing-substrate spec §4.4).
	SourceBackup Source = "backup"
)

// DefaultMaxVersions bounds the ring buffer when NewManager is given zero.
const DefaultMaxVersions = 10

// ErrVersionNotFound is returned when a requested version number isn't in
// the retained window.
var ErrVersionNotFound = errors.New("configversion: version not found")

// ErrEmptyManager is returned by operations that need at least one version.
var ErrEmptyManager = errors.New("configversion: no versions recorded")

// Version is one retained configuration snapshot.
type Version struct {
	Config *config.Config
	// Label names a backup-* audit sentinel (e.g. "backup-3"); empty for
	// ordinary versions.
	Label     string
	Checksum  string
	Source    Source
	Number    int64
	CreatedAt time.Time
}

// Manager owns a bounded, ordered history of Versions keyed by checksum.
// Adding a config whose checksum matches the currently active version is a
// no-op (idempotent AddVersion); once the ring is full the oldest
// non-active version is evicted to make room.
type Manager struct {
	mu          sync.RWMutex
	versions    []Version
	byChecksum  map[string]int64
	nextNumber  int64
	maxVersions int
}

// NewManager creates a Manager retaining at most maxVersions entries.
// maxVersions <= 0 uses DefaultMaxVersions.
func NewManager(maxVersions int) *Manager {
	if maxVersions <= 0 {
		maxVersions = DefaultMaxVersions
	}
	return &Manager{
		versions:    make([]Version, 0, maxVersions),
		byChecksum:  make(map[string]int64),
		maxVersions: maxVersions,
		nextNumber:  1,
	}
}

// AddVersion records cfg as a new version from source. If cfg's checksum
// matches the most recently added version, AddVersion is a no-op and
// returns the existing Version (idempotence per routing-substrate spec §8).
func (m *Manager) AddVersion(cfg *config.Config, source Source) (Version, error) {
	sum, err := config.Checksum(cfg)
	if err != nil {
		return Version{}, fmt.Errorf("configversion: checksum: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.versions) > 0 {
		last := m.versions[len(m.versions)-1]
		if last.Checksum == sum {
			return last, nil
		}
	}

	v := Version{
		Number:    m.nextNumber,
		Config:    cfg,
		Checksum:  sum,
		Source:    source,
		CreatedAt: time.Now(),
	}
	m.nextNumber++

	if len(m.versions) >= m.maxVersions {
		evicted := m.versions[0]
		m.versions = m.versions[1:]
		delete(m.byChecksum, evicted.Checksum)
	}

	m.versions = append(m.versions, v)
	m.byChecksum[sum] = v.Number

	return v, nil
}

// Latest returns the most recently added version.
func (m *Manager) Latest() (Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.versions) == 0 {
		return Version{}, ErrEmptyManager
	}
	return m.versions[len(m.versions)-1], nil
}

// Get returns the version with the given number.
func (m *Manager) Get(number int64) (Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, v := range m.versions {
		if v.Number == number {
			return v, nil
		}
	}
	return Version{}, ErrVersionNotFound
}

// List returns all retained versions, oldest first.
func (m *Manager) List() []Version {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Version, len(m.versions))
	copy(out, m.versions)
	return out
}

// RollbackToVersion returns the Config for the given version number and
// re-records it as the newest version (sourced "api"), so rollback itself
// is auditable the same way any other change is. Before doing so, it
// snapshots the version that was active (newest) before the rollback as a
// backup-* sentinel entry, so the displaced config is recoverable from the
// version history even after the ring evicts its original entry
// (routing-substrate spec §4.4, scenario 6). It does not write the config
// to disk; the caller (the Dynamic Router coordinator) is responsible for
// publishing and persisting it.
func (m *Manager) RollbackToVersion(number int64) (*config.Config, error) {
	target, err := m.Get(number)
	if err != nil {
		return nil, err
	}

	if displaced, err := m.Latest(); err == nil && displaced.Checksum != target.Checksum {
		if _, err := m.addBackupSentinel(displaced); err != nil {
			return nil, fmt.Errorf("configversion: rollback backup: %w", err)
		}
	}

	if _, err := m.AddVersion(target.Config, SourceAPI); err != nil {
		return nil, fmt.Errorf("configversion: rollback re-record: %w", err)
	}

	return target.Config, nil
}

// addBackupSentinel records displaced as a backup-* audit entry. Unlike
// AddVersion it never no-ops on a checksum match: the whole point is to
// retain a copy of the displaced version even though its checksum is
// already present in the history as the version being displaced.
func (m *Manager) addBackupSentinel(displaced Version) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := Version{
		Number:    m.nextNumber,
		Config:    displaced.Config,
		Label:     fmt.Sprintf("backup-%d", displaced.Number),
		Checksum:  displaced.Checksum,
		Source:    SourceBackup,
		CreatedAt: time.Now(),
	}
	m.nextNumber++

	if len(m.versions) >= m.maxVersions {
		evicted := m.versions[0]
		m.versions = m.versions[1:]
		delete(m.byChecksum, evicted.Checksum)
	}

	m.versions = append(m.versions, v)

	return v, nil
}

// FieldChange is a modified top-level field, carrying both whole values
// rather than a nested diff.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// VersionDiff buckets every top-level field of two versions' canonicalized
// configs into what changed between them (routing-substrate spec §4.4/§8).
type VersionDiff struct {
	Added     map[string]any         `json:"added"`
	Removed   map[string]any         `json:"removed"`
	Modified  map[string]FieldChange `json:"modified"`
	Unchanged map[string]any         `json:"unchanged"`
}

// GetVersionDiff compares two versions' canonical JSON trees and buckets
// every top-level field into added (present only in to), removed (present
// only in from), modified (present in both, differing — carried as the
// whole {old, new} values), or unchanged. Nested diffing is intentionally
// shallow: routing-substrate spec §4.4 only requires surfacing which
// sections of the document changed, not a recursive diff. diff(v, v)
// therefore always yields {added:{}, removed:{}, modified:{}, unchanged:<all>}.
func (m *Manager) GetVersionDiff(fromNumber, toNumber int64) (VersionDiff, error) {
	from, err := m.Get(fromNumber)
	if err != nil {
		return VersionDiff{}, err
	}
	to, err := m.Get(toNumber)
	if err != nil {
		return VersionDiff{}, err
	}

	fromMap, err := canonicalMap(from.Config)
	if err != nil {
		return VersionDiff{}, err
	}
	toMap, err := canonicalMap(to.Config)
	if err != nil {
		return VersionDiff{}, err
	}

	diff := VersionDiff{
		Added:     make(map[string]any),
		Removed:   make(map[string]any),
		Modified:  make(map[string]FieldChange),
		Unchanged: make(map[string]any),
	}

	fields := make(map[string]bool, len(fromMap)+len(toMap))
	for k := range fromMap {
		fields[k] = true
	}
	for k := range toMap {
		fields[k] = true
	}

	for name := range fields {
		fv, fok := fromMap[name]
		tv, tok := toMap[name]

		switch {
		case fok && !tok:
			diff.Removed[name] = fv
		case !fok && tok:
			diff.Added[name] = tv
		case deepEqualJSON(fv, tv):
			diff.Unchanged[name] = tv
		default:
			diff.Modified[name] = FieldChange{Old: fv, New: tv}
		}
	}

	return diff, nil
}

// ValidateVersionIntegrity recomputes the checksum of every retained
// version's Config and confirms it still matches the checksum recorded at
// AddVersion time, guarding against in-memory mutation of a *Config a
// caller was handed by reference.
func (m *Manager) ValidateVersionIntegrity() error {
	m.mu.RLock()
	versions := make([]Version, len(m.versions))
	copy(versions, m.versions)
	m.mu.RUnlock()

	for _, v := range versions {
		sum, err := config.Checksum(v.Config)
		if err != nil {
			return fmt.Errorf("configversion: checksum version %d: %w", v.Number, err)
		}
		if sum != v.Checksum {
			return fmt.Errorf("configversion: version %d checksum mismatch: recorded %s, recomputed %s",
				v.Number, v.Checksum, sum)
		}
	}
	return nil
}

func canonicalMap(cfg *config.Config) (map[string]any, error) {
	raw, err := config.Canonicalize(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := jsonUnmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
