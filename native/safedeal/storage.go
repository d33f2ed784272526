package safedeal

import (
	"strconv"
)

// firstDealID is returned by getNextDealId before any deal exists.
const firstDealID uint64 = 1

var (
	nextDealIDKey         = []byte("safedeal/nextDealId")
	dealKeyPrefix         = "safedeal/deal/"
	clientIndexPrefix     = []byte("safedeal/client/")
	freelancerIndexPrefix = []byte("safedeal/freelancer/")
)

func dealKey(id uint64) []byte {
	return []byte(dealKeyPrefix + strconv.FormatUint(id, 10))
}

func clientIndexKey(addr [20]byte) []byte {
	return append(append([]byte(nil), clientIndexPrefix...), addr[:]...)
}

func freelancerIndexKey(addr [20]byte) []byte {
	return append(append([]byte(nil), freelancerIndexPrefix...), addr[:]...)
}

func (e *Engine) loadDeal(id uint64) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	deal := new(Deal)
	ok, err := e.state.KVGet(dealKey(id), deal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDealNotFound
	}
	return deal, nil
}

func (e *Engine) storeDeal(deal *Deal) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	sanitized, err := SanitizeDeal(deal)
	if err != nil {
		return err
	}
	return e.state.KVPut(dealKey(sanitized.ID), sanitized)
}

func (e *Engine) nextDealID() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var next uint64
	ok, err := e.state.KVGet(nextDealIDKey, &next)
	if err != nil {
		return 0, err
	}
	if !ok {
		return firstDealID, nil
	}
	return next, nil
}

// allocateDealID returns the next identifier and advances the counter.
func (e *Engine) allocateDealID() (uint64, error) {
	id, err := e.nextDealID()
	if err != nil {
		return 0, err
	}
	if err := e.state.KVPut(nextDealIDKey, id+1); err != nil {
		return 0, err
	}
	return id, nil
}

func (e *Engine) loadIndex(key []byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var ids []uint64
	if err := e.state.KVGetList(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// appendIndex adds id to the list stored under key. Indexes are append-only.
func (e *Engine) appendIndex(key []byte, id uint64) error {
	ids, err := e.loadIndex(key)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	return e.state.KVPut(key, ids)
}
