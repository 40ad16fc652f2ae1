package snapshot

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Store keeps snapshot documents per instrument, ordered by timestamp.
type Store struct {
	db *pebble.DB
}

func OpenStore(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(code string, ts int64, doc *structpb.Struct) error {
	val, err := proto.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Set(snapKey(code, ts), val, pebble.Sync)
}

// TruncateBefore deletes every snapshot of code older than ts.
func (s *Store) TruncateBefore(code string, ts int64) error {
	lo, _ := codeBounds(code)
	return s.db.DeleteRange(lo, snapKey(code, ts), pebble.Sync)
}

// -------------------- Keys --------------------

func snapKey(code string, ts int64) []byte {
	return []byte(fmt.Sprintf("snap/%s/%017d", code, ts))
}

func codeBounds(code string) (lo, hi []byte) {
	return []byte("snap/" + code + "/"), []byte("snap/" + code + "/~")
}
