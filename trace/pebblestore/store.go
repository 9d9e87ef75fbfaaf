// Package pebblestore persists traces in a Pebble key/value database.
//
// Layout, per trace:
//
//	trace/<name>/meta          JSON record header and snapshots
//	trace/<name>/event/<seq>   JSON event, seq big-endian so keys sort in time order
package pebblestore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"go.uber.org/multierr"

	"github.com/signalsfoundry/contact-traces/trace"
)

const keyPrefix = "trace/"

// ErrBadName is returned for trace names that cannot be used as keys.
var ErrBadName = errors.New("trace name must be non-empty and must not contain '/'")

// Backend is a trace.Backend on Pebble.
type Backend struct {
	db *pebble.DB
}

// Open opens (or creates) the database in dir.
func Open(dir string) (*Backend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dir, err)
	}
	return &Backend{db: db}, nil
}

func traceKey(name string) []byte    { return []byte(keyPrefix + name + "/") }
func metaKey(name string) []byte     { return []byte(keyPrefix + name + "/meta") }
func eventPrefix(name string) []byte { return []byte(keyPrefix + name + "/event/") }

func eventKey(name string, seq int) []byte {
	k := eventPrefix(name)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	return append(k, buf[:]...)
}

// upperBound returns the smallest key greater than every key with prefix p.
func upperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func validName(name string) bool {
	return name != "" && !strings.Contains(name, "/")
}

// Save replaces any stored trace with the same name.
func (b *Backend) Save(rec *trace.Record) (err error) {
	if !validName(rec.Name) {
		return fmt.Errorf("%w: %q", ErrBadName, rec.Name)
	}
	meta, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer func() { err = multierr.Append(err, batch.Close()) }()

	prefix := traceKey(rec.Name)
	if err := batch.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return err
	}
	if err := batch.Set(metaKey(rec.Name), meta, nil); err != nil {
		return err
	}
	for i, ev := range rec.Events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := batch.Set(eventKey(rec.Name, i), raw, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Load reads a trace record.
func (b *Backend) Load(name string) (rec *trace.Record, err error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	v, closer, err := b.db.Get(metaKey(name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", trace.ErrTraceNotFound, name)
		}
		return nil, err
	}
	rec = &trace.Record{}
	err = json.Unmarshal(v, rec)
	if cerr := closer.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("decode meta of %q: %w", name, err)
	}

	prefix := eventPrefix(name)
	it := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	defer func() { err = multierr.Append(err, it.Close()) }()

	for it.First(); it.Valid(); it.Next() {
		var ev trace.RecordEvent
		if err := json.Unmarshal(it.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode event of %q: %w", name, err)
		}
		rec.Events = append(rec.Events, ev)
	}
	return rec, nil
}

// Delete removes a trace.
func (b *Backend) Delete(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	_, closer, err := b.db.Get(metaKey(name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return fmt.Errorf("%w: %q", trace.ErrTraceNotFound, name)
		}
		return err
	}
	if err := closer.Close(); err != nil {
		return err
	}
	prefix := traceKey(name)
	return b.db.DeleteRange(prefix, upperBound(prefix), pebble.Sync)
}

// List returns the names of every stored trace in key order.
func (b *Backend) List() (names []string, err error) {
	prefix := []byte(keyPrefix)
	it := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	defer func() { err = multierr.Append(err, it.Close()) }()

	for it.First(); it.Valid(); it.Next() {
		key := string(it.Key())
		if !strings.HasSuffix(key, "/meta") {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), "/meta"))
	}
	return names, nil
}

// Close flushes and closes the database.
func (b *Backend) Close() error {
	if err := b.db.Flush(); err != nil {
		return multierr.Append(err, b.db.Close())
	}
	return b.db.Close()
}

var _ trace.Backend = (*Backend)(nil)
