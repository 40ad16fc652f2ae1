package snapshot

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"l3sim/domain/orderbook"
)

var ErrNoSnapshot = errors.New("no snapshot")

// Get reads the snapshot of code taken at ts.
func (s *Store) Get(code string, ts int64) (*structpb.Struct, error) {
	val, closer, err := s.db.Get(snapKey(code, ts))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%s at %d: %w", code, ts, ErrNoSnapshot)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return unmarshal(val)
}

// Latest reads the newest snapshot of code and its timestamp.
func (s *Store) Latest(code string) (int64, *structpb.Struct, error) {
	lo, hi := codeBounds(code)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%s: %w", code, ErrNoSnapshot)
	}

	var ts int64
	if _, err := fmt.Sscanf(string(iter.Key()[len(lo):]), "%d", &ts); err != nil {
		return 0, nil, fmt.Errorf("snapshot key %q: %w", iter.Key(), orderbook.ErrParse)
	}
	doc, err := unmarshal(iter.Value())
	return ts, doc, err
}

// Timestamps lists the stored snapshot times of code, oldest first.
func (s *Store) Timestamps(code string) ([]int64, error) {
	lo, hi := codeBounds(code)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []int64
	for iter.First(); iter.Valid(); iter.Next() {
		var ts int64
		if _, err := fmt.Sscanf(string(iter.Key()[len(lo):]), "%d", &ts); err != nil {
			return nil, fmt.Errorf("snapshot key %q: %w", iter.Key(), orderbook.ErrParse)
		}
		out = append(out, ts)
	}
	return out, iter.Error()
}

func unmarshal(val []byte) (*structpb.Struct, error) {
	doc := &structpb.Struct{}
	if err := proto.Unmarshal(val, doc); err != nil {
		return nil, fmt.Errorf("snapshot document: %w", err)
	}
	return doc, nil
}
