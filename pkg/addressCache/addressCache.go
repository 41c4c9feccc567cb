package addressCache

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// Store persists the address sets discovered by reloadable decoder modules
// so that growth survives restarts. Sets only ever grow: Put merges, it
// never replaces.
type Store struct {
	db *leveldb.DB
}

func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open address cache at %s", path)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func cacheKey(chain config.Chain, counterparty string) []byte {
	return []byte(fmt.Sprintf("addresses/%s/%s", chain, counterparty))
}

// Get returns the stored addresses for the chain and counterparty, in
// insertion order. A missing entry is not an error.
func (s *Store) Get(chain config.Chain, counterparty string) ([]common.Address, error) {
	raw, err := s.db.Get(cacheKey(chain, counterparty), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read address cache")
	}
	var addresses []common.Address
	if err := json.Unmarshal(raw, &addresses); err != nil {
		return nil, errors.Wrap(err, "failed to decode address cache entry")
	}
	return addresses, nil
}

// Put merges the given addresses into the stored set, preserving the
// insertion order of first appearance.
func (s *Store) Put(chain config.Chain, counterparty string, addresses []common.Address) error {
	existing, err := s.Get(chain, counterparty)
	if err != nil {
		return err
	}

	seen := make(map[common.Address]struct{}, len(existing))
	merged := make([]common.Address, 0, len(existing)+len(addresses))
	for _, addr := range existing {
		seen[addr] = struct{}{}
		merged = append(merged, addr)
	}
	for _, addr := range addresses {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		merged = append(merged, addr)
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return errors.Wrap(err, "failed to encode address cache entry")
	}
	return errors.Wrap(s.db.Put(cacheKey(chain, counterparty), raw, nil), "failed to write address cache")
}
