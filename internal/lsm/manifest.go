package lsm

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"strconv"
	"strings"

	"gastrolog/internal/storage"

	"github.com/google/uuid"
)

// manifestVersion is bumped whenever the textual layout below changes.
const manifestVersion = 1

// Manifest is the LSM's persisted view of which SSTs exist at which level,
// plus the logical log position it has indexed up to. It is rewritten in
// full on every compaction and every flush; there is no incremental
// append format.
//
// On-disk layout (one line per field, LF-terminated):
//
//	<md5 of everything below>
//	version=<n>
//	position=<logical position>
//	level=<n> order=<n> id=<uuid>
//	...
//
// position doubles as both the "logical position" and "indexed position"
// named in the data model: GethDB's indexer commits both checkpoints in
// one step (see design notes), so there is no separate prepare/commit pair
// to reconcile here.
type Manifest struct {
	Position uint64
	// Levels[i] holds the SST ids at level i, ordered oldest-first within
	// the level (index 0 is the oldest, i.e. first to be compacted away).
	Levels [][]uuid.UUID
}

// LoadManifest reads the manifest from storage, or returns an empty Manifest if
// none has been written yet.
func LoadManifest(ctx context.Context, s storage.Storage) (*Manifest, error) {
	exists, err := s.Exists(ctx, storage.IndexMapID())
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Manifest{}, nil
	}

	raw, err := s.ReadAll(ctx, storage.IndexMapID())
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return parseManifest(raw)
}

func parseManifest(raw []byte) (*Manifest, error) {
	lines := strings.Split(string(raw), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("manifest: truncated")
	}

	wantSum := lines[0]
	body := strings.Join(lines[1:], "\n")
	gotSum := fmt.Sprintf("%x", md5.Sum([]byte(body)))
	if wantSum != gotSum {
		return nil, fmt.Errorf("manifest: checksum mismatch")
	}

	m := &Manifest{}
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "version="):
			// Informational; nothing to validate against yet.
		case strings.HasPrefix(line, "position="):
			v, err := strconv.ParseUint(strings.TrimPrefix(line, "position="), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("manifest: bad position: %w", err)
			}
			m.Position = v
		case strings.HasPrefix(line, "level="):
			level, order, id, err := parseSSTLine(line)
			if err != nil {
				return nil, err
			}
			for len(m.Levels) <= level {
				m.Levels = append(m.Levels, nil)
			}
			for len(m.Levels[level]) <= order {
				m.Levels[level] = append(m.Levels[level], uuid.Nil)
			}
			m.Levels[level][order] = id
		default:
			return nil, fmt.Errorf("manifest: unrecognized line %q", line)
		}
	}
	return m, nil
}

func parseSSTLine(line string) (level, order int, id uuid.UUID, err error) {
	fields := strings.Fields(line)
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "level="):
			level, err = strconv.Atoi(strings.TrimPrefix(f, "level="))
		case strings.HasPrefix(f, "order="):
			order, err = strconv.Atoi(strings.TrimPrefix(f, "order="))
		case strings.HasPrefix(f, "id="):
			id, err = uuid.Parse(strings.TrimPrefix(f, "id="))
		}
		if err != nil {
			return 0, 0, uuid.Nil, fmt.Errorf("manifest: %w", err)
		}
	}
	return level, order, id, nil
}

// Save persists the manifest in full, overwriting any prior content.
func (m *Manifest) Save(ctx context.Context, s storage.Storage) error {
	var body bytes.Buffer
	fmt.Fprintf(&body, "version=%d\n", manifestVersion)
	fmt.Fprintf(&body, "position=%d\n", m.Position)
	for level, ssts := range m.Levels {
		for order, id := range ssts {
			fmt.Fprintf(&body, "level=%d order=%d id=%s\n", level, order, id)
		}
	}

	sum := fmt.Sprintf("%x", md5.Sum(body.Bytes()))
	var full bytes.Buffer
	full.WriteString(sum)
	full.WriteByte('\n')
	full.Write(body.Bytes())

	if err := s.Remove(ctx, storage.IndexMapID()); err != nil {
		return fmt.Errorf("clear manifest: %w", err)
	}
	if _, err := s.Append(ctx, storage.IndexMapID(), full.Bytes()); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return s.Sync(ctx)
}
