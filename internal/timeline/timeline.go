package timeline

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/relaybench/relaybench/internal/stats"
)

const (
	snapshotsTable = "snapshots"
	idIndex        = "id"
	streamIndex    = "stream"
)

// entry is the row stored for each snapshot. Id sorts rows by timestamp, then stream, then server.
type entry struct {
	Id       string
	Stream   string
	Snapshot stats.Snapshot
}

// Timeline is the merged, ordered collection of snapshots produced by concurrent workers.
// Snapshots with the same key are merged on insert; nothing is ever deleted.
// Readers see a consistent view while workers keep inserting.
type Timeline struct {
	db *memdb.MemDB
}

func New() (*Timeline, error) {
	db, err := memdb.NewMemDB(timelineSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Timeline{db: db}, nil
}

// Insert adds s to the timeline, merging it with the snapshot already stored under the same key.
// It returns the snapshot as stored.
func (t *Timeline) Insert(s stats.Snapshot) (stats.Snapshot, error) {
	// Only one write transaction may be open at a time, so the lookup and the merge below can't race.
	txn := t.db.Txn(true)
	defer txn.Abort()

	id := keyOf(s.Key)
	existing, err := txn.First(snapshotsTable, idIndex, id)
	if err != nil {
		return stats.Snapshot{}, errors.WithStack(err)
	}
	if existing != nil {
		s, err = stats.Merge(existing.(*entry).Snapshot, s)
		if err != nil {
			return stats.Snapshot{}, err
		}
	}
	if err := txn.Insert(snapshotsTable, &entry{Id: id, Stream: s.Stream, Snapshot: s}); err != nil {
		return stats.Snapshot{}, errors.WithStack(err)
	}
	txn.Commit()
	return s, nil
}

// InsertAll inserts each of snapshots in turn.
func (t *Timeline) InsertAll(snapshots []stats.Snapshot) error {
	for _, s := range snapshots {
		if _, err := t.Insert(s); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the snapshot stored under key.
func (t *Timeline) Get(key stats.Key) (stats.Snapshot, bool, error) {
	txn := t.db.Txn(false)
	obj, err := txn.First(snapshotsTable, idIndex, keyOf(key))
	if err != nil {
		return stats.Snapshot{}, false, errors.WithStack(err)
	}
	if obj == nil {
		return stats.Snapshot{}, false, nil
	}
	return obj.(*entry).Snapshot, true, nil
}

// Snapshots returns every snapshot ordered by timestamp, then stream, then server.
func (t *Timeline) Snapshots() ([]stats.Snapshot, error) {
	txn := t.db.Txn(false)
	iter, err := txn.Get(snapshotsTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return collect(iter, func(stats.Snapshot) bool { return true }), nil
}

// Stream returns the snapshots of one stream in timestamp order.
func (t *Timeline) Stream(stream string) ([]stats.Snapshot, error) {
	txn := t.db.Txn(false)
	iter, err := txn.Get(snapshotsTable, streamIndex, stream)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return collect(iter, func(stats.Snapshot) bool { return true }), nil
}

// Between returns the snapshots with from <= timestamp <= to, in timeline order.
func (t *Timeline) Between(from, to int64) ([]stats.Snapshot, error) {
	txn := t.db.Txn(false)
	iter, err := txn.LowerBound(snapshotsTable, idIndex, timestampPrefix(from))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return collect(iter, func(s stats.Snapshot) bool { return s.Timestamp <= to }), nil
}

// Streams returns the sorted names of all streams present in the timeline.
func (t *Timeline) Streams() ([]string, error) {
	txn := t.db.Txn(false)
	iter, err := txn.Get(snapshotsTable, streamIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var streams []string
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		stream := obj.(*entry).Stream
		if len(streams) == 0 || streams[len(streams)-1] != stream {
			streams = append(streams, stream)
		}
	}
	return streams, nil
}

func (t *Timeline) Len() int {
	snapshots, err := t.Snapshots()
	if err != nil {
		return 0
	}
	return len(snapshots)
}

// collect drains iter until it is exhausted or keep returns false.
func collect(iter memdb.ResultIterator, keep func(stats.Snapshot) bool) []stats.Snapshot {
	result := make([]stats.Snapshot, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		s := obj.(*entry).Snapshot
		if !keep(s) {
			break
		}
		result = append(result, s)
	}
	return result
}

// timestampPrefix encodes a timestamp so that the encodings sort like the numbers, negative ones included.
func timestampPrefix(timestamp int64) string {
	return fmt.Sprintf("%020d", uint64(timestamp)^(1<<63))
}

func keyOf(key stats.Key) string {
	return timestampPrefix(key.Timestamp) + "\x00" + key.Stream + "\x00" + key.Server
}

func timelineSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[idIndex] = &memdb.IndexSchema{
		Name:    idIndex,
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "Id"},
	}
	indexes[streamIndex] = &memdb.IndexSchema{
		Name:    streamIndex,
		Unique:  false,
		Indexer: &memdb.StringFieldIndex{Field: "Stream"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			snapshotsTable: {
				Name:    snapshotsTable,
				Indexes: indexes,
			},
		},
	}
}
