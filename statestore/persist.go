package statestore

import (
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"
)

var (
	keyPrefix = []byte("state/")
	keyEnd    = []byte("state0") // '/'+1
)

type persister struct {
	db *pebble.DB
}

func openPersister(dir string) (*persister, error) {
	if dir == "" {
		return nil, errors.New("statestore: data dir is required")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &persister{db: db}, nil
}

func stateKey(target string) []byte {
	return append(append([]byte(nil), keyPrefix...), target...)
}

func (p *persister) save(target string, st State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return p.db.Set(stateKey(target), b, pebble.Sync)
}

func (p *persister) delete(target string) error {
	return p.db.Delete(stateKey(target), pebble.Sync)
}

func (p *persister) load(into map[string]State) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: keyEnd})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		var st State
		if err := json.Unmarshal(iter.Value(), &st); err != nil {
			_ = iter.Close()
			return err
		}
		into[string(iter.Key()[len(keyPrefix):])] = st
	}
	return iter.Close()
}

func (p *persister) close() error {
	return p.db.Close()
}
