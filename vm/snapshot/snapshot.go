// Package snapshot encodes runtime statistics as canonical CBOR so runs can
// be compared byte for byte.
package snapshot

import (
	"fmt"
	"time"

	"github.com/chazu/irdispatch/vm"
	"github.com/fxamacker/cbor/v2"
)

// Version is the snapshot format version.
const Version = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Site is the snapshot of one call site.
type Site struct {
	Name            string `cbor:"1,keyasint"`
	State           string `cbor:"2,keyasint"`
	Entries         int    `cbor:"3,keyasint"`
	Limit           int    `cbor:"4,keyasint"`
	Hits            uint64 `cbor:"5,keyasint"`
	Misses          uint64 `cbor:"6,keyasint"`
	Degraded        bool   `cbor:"7,keyasint"`
	Bindings        int    `cbor:"8,keyasint,omitempty"`
	Specializations uint64 `cbor:"9,keyasint"`
	Invalidations   uint64 `cbor:"10,keyasint,omitempty"`
	NormalEdges     uint64 `cbor:"11,keyasint,omitempty"`
}

// Snapshot is the encoded form of vm.RuntimeStats.
type Snapshot struct {
	Version          int    `cbor:"1,keyasint"`
	Program          string `cbor:"2,keyasint,omitempty"`
	TakenAt          int64  `cbor:"3,keyasint"` // unix nanoseconds
	Sites            []Site `cbor:"4,keyasint"`
	NativeBinds      uint64 `cbor:"5,keyasint"`
	Functions        int    `cbor:"6,keyasint"`
	HotFunctions     int    `cbor:"7,keyasint"`
	TotalInvocations uint64 `cbor:"8,keyasint"`
	Symbols          int    `cbor:"9,keyasint"`
	Handles          int    `cbor:"10,keyasint"`
}

// FromStats converts runtime statistics into a snapshot.
func FromStats(program string, st vm.RuntimeStats, at time.Time) *Snapshot {
	s := &Snapshot{
		Version:          Version,
		Program:          program,
		TakenAt:          at.UnixNano(),
		Sites:            make([]Site, len(st.Sites)),
		NativeBinds:      st.NativeBinds,
		Functions:        st.Profile.TotalFunctions,
		HotFunctions:     st.Profile.HotFunctions,
		TotalInvocations: st.Profile.TotalInvocations,
		Symbols:          st.Symbols,
		Handles:          st.Handles,
	}
	for i, site := range st.Sites {
		s.Sites[i] = Site{
			Name:            site.Name,
			State:           site.State.String(),
			Entries:         site.Entries,
			Limit:           site.Limit,
			Hits:            site.Hits,
			Misses:          site.Misses,
			Degraded:        site.Degraded,
			Bindings:        site.Bindings,
			Specializations: site.Specializations,
			Invalidations:   site.Invalidations,
			NormalEdges:     site.NormalEdges,
		}
	}
	return s
}

// Marshal serializes a Snapshot to CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a Snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("snapshot: unsupported version %d", s.Version)
	}
	return &s, nil
}
