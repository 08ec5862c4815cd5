package store

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Record metadata is encoded with CBOR Core Deterministic Encoding, so equal
// values always produce equal bytes in the header.
var (
	metaEnc cbor.EncMode
	metaDec cbor.DecMode
)

func init() {
	var err error
	metaEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	metaDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// SetMeta attaches v to the record of id, replacing any previous metadata.
// A nil v clears it.
func (s *Store) SetMeta(id ID, v any) error {
	rec, ok := s.records[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "set metadata of %d", id)
	}
	if v == nil {
		rec.Meta = nil
		return nil
	}
	data, err := metaEnc.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode metadata of %d", id)
	}
	rec.Meta = data
	return nil
}

// GetMeta decodes the metadata of id into out. It reports false when the
// record has none.
func (s *Store) GetMeta(id ID, out any) (bool, error) {
	rec, ok := s.records[id]
	if !ok {
		return false, errors.Wrapf(ErrNotFound, "get metadata of %d", id)
	}
	if len(rec.Meta) == 0 {
		return false, nil
	}
	if err := metaDec.Unmarshal(rec.Meta, out); err != nil {
		return false, errors.Wrapf(err, "decode metadata of %d", id)
	}
	return true, nil
}
