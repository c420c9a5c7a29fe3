package services

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/zeebo/blake3"
)

// RecordKey identifies a request record by content. Records with equal canonical
// form have equal keys regardless of element order.
type RecordKey [32]byte

// String returns the first 12 hex characters, for logs
func (k RecordKey) String() string {
	return hex.EncodeToString(k[:6])
}

// recordDomainKey separates record keys from any other BLAKE3 use.
// Changing it invalidates nothing on disk since keys are never persisted.
var recordDomainKey = [32]byte{
	'p', 'a', 'c', 's', 'b', 'a', 't', 'c', 'h', '.', 'r', 'e', 'c', 'o', 'r', 'd',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// recordEncMode uses Core Deterministic Encoding so equal records produce identical bytes
var recordEncMode cbor.EncMode

func init() {
	var err error
	recordEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("services: CBOR encoder initialization failed: " + err.Error())
	}
}

// canonicalRecord is the wire shape hashed into a RecordKey
type canonicalRecord struct {
	Elements      []string `cbor:"1,keyasint"`
	Kind          string   `cbor:"2,keyasint"`
	Model         string   `cbor:"3,keyasint"`
	ThrottleDelay int64    `cbor:"4,keyasint"`
	Workers       int      `cbor:"5,keyasint"`
}

// KeyOf computes the content key of a request record
func KeyOf(r models.Request) RecordKey {
	c := r.Canonical()
	if c.Elements == nil {
		c.Elements = []string{}
	}
	data, err := recordEncMode.Marshal(canonicalRecord{
		Elements:      c.Elements,
		Kind:          string(c.Kind),
		Model:         string(c.Model),
		ThrottleDelay: int64(c.ThrottleDelay),
		Workers:       c.Workers,
	})
	if err != nil {
		// Only fixed-shape values are encoded, so this cannot fail
		panic("services: encoding request record failed: " + err.Error())
	}

	hasher, err := blake3.NewKeyed(recordDomainKey[:])
	if err != nil {
		panic("services: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)

	var key RecordKey
	copy(key[:], hasher.Sum(nil))
	return key
}

// RecordSet is a set of request records keyed by content
type RecordSet map[RecordKey]struct{}

// NewRecordSet builds a set from records
func NewRecordSet(records ...[]models.Request) RecordSet {
	s := RecordSet{}
	for _, list := range records {
		for _, r := range list {
			s.Add(r)
		}
	}
	return s
}

// Add inserts r
func (s RecordSet) Add(r models.Request) {
	s[KeyOf(r)] = struct{}{}
}

// Contains reports whether r is in the set
func (s RecordSet) Contains(r models.Request) bool {
	_, ok := s[KeyOf(r)]
	return ok
}
