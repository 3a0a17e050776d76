package backup

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fleetsync/internal/client/apiclient"
	"github.com/dmitrijs2005/fleetsync/internal/client/notify"
)

// Version is written into every snapshot.
const Version = "1.0.0"

var (
	// ErrIntegrity is the umbrella for every import/restore validation failure.
	ErrIntegrity        = errors.New("backup integrity check failed")
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrIntegrity)
	ErrMalformedBackup  = fmt.Errorf("%w: malformed backup", ErrIntegrity)
	// ErrPassphraseRequired is returned for a sealed backup opened without a passphrase.
	ErrPassphraseRequired = fmt.Errorf("%w: backup is sealed and no passphrase was given", ErrIntegrity)
)

// Collection names a dataset inside a snapshot.
type Collection string

const (
	Vehicles         Collection = "vehicles"
	Drivers          Collection = "drivers"
	GasStations      Collection = "gasStations"
	FuelTypes        Collection = "fuelTypes"
	MaintenanceTypes Collection = "maintenanceTypes"
	FuelRecords      Collection = "fuelRecords"
)

// Collections in snapshot order.
var Collections = []Collection{Vehicles, Drivers, GasStations, FuelTypes, MaintenanceTypes, FuelRecords}

var resources = map[Collection]apiclient.Resource{
	Vehicles:         apiclient.Vehicles,
	Drivers:          apiclient.Drivers,
	GasStations:      apiclient.GasStations,
	FuelTypes:        apiclient.FuelTypes,
	MaintenanceTypes: apiclient.MaintenanceTypes,
	FuelRecords:      apiclient.FuelRecords,
}

var kinds = map[Collection]notify.Kind{
	Vehicles:         notify.KindVehicles,
	Drivers:          notify.KindDrivers,
	GasStations:      notify.KindGasStations,
	FuelTypes:        notify.KindFuelTypes,
	MaintenanceTypes: notify.KindMaintenanceTypes,
	FuelRecords:      notify.KindFuelRecords,
}

// Resource is the REST collection backing c.
func (c Collection) Resource() apiclient.Resource { return resources[c] }

func (c Collection) Valid() bool {
	_, ok := resources[c]
	return ok
}

// ParseCollections parses a list of collection names.
func ParseCollections(names []string) ([]Collection, error) {
	out := make([]Collection, 0, len(names))
	for _, n := range names {
		c := Collection(strings.TrimSpace(n))
		if !c.Valid() {
			return nil, fmt.Errorf("unknown collection %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

// Data holds the collections of a snapshot. Field order is the
// serialization order the checksum is computed over.
type Data struct {
	Vehicles         []json.RawMessage `json:"vehicles"`
	Drivers          []json.RawMessage `json:"drivers"`
	GasStations      []json.RawMessage `json:"gasStations"`
	FuelTypes        []json.RawMessage `json:"fuelTypes"`
	MaintenanceTypes []json.RawMessage `json:"maintenanceTypes"`
	FuelRecords      []json.RawMessage `json:"fuelRecords"`
}

func (d *Data) slot(c Collection) *[]json.RawMessage {
	switch c {
	case Vehicles:
		return &d.Vehicles
	case Drivers:
		return &d.Drivers
	case GasStations:
		return &d.GasStations
	case FuelTypes:
		return &d.FuelTypes
	case MaintenanceTypes:
		return &d.MaintenanceTypes
	case FuelRecords:
		return &d.FuelRecords
	}
	return nil
}

// Get returns the records of c.
func (d Data) Get(c Collection) []json.RawMessage {
	if s := d.slot(c); s != nil {
		return *s
	}
	return nil
}

func (d *Data) set(c Collection, items []json.RawMessage) {
	if items == nil {
		items = []json.RawMessage{}
	}
	*d.slot(c) = items
}

// Count is the total number of records.
func (d Data) Count() int {
	n := 0
	for _, c := range Collections {
		n += len(d.Get(c))
	}
	return n
}

type Metadata struct {
	RecordCount int    `json:"recordCount"`
	Checksum    string `json:"checksum"`
}

// Snapshot is an immutable copy of the whole dataset.
type Snapshot struct {
	Version   string   `json:"version"`
	Timestamp int64    `json:"timestamp"`
	Data      Data     `json:"data"`
	Metadata  Metadata `json:"metadata"`
}

// Checksum is the lower-case hex SHA-256 of the compact JSON of d.
func Checksum(d Data) (string, error) {
	b, err := canonical(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// canonical is the compact serialization of d as json.Marshal writes it,
// with empty collections written as []. Marshal escapes &, < and > inside
// records; re-marshalling its own output leaves it unchanged, so a snapshot
// read back from history or an export file hashes to the same value.
func canonical(d Data) ([]byte, error) {
	for _, c := range Collections {
		if d.Get(c) == nil {
			d.set(c, nil)
		}
	}
	return json.Marshal(d)
}

// Verify recomputes the checksum and record count of s.
func (s Snapshot) Verify() error {
	sum, err := Checksum(s.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}
	if sum != s.Metadata.Checksum {
		return ErrChecksumMismatch
	}
	if n := s.Data.Count(); n != s.Metadata.RecordCount {
		return fmt.Errorf("%w: recordCount %d does not match %d records", ErrMalformedBackup, s.Metadata.RecordCount, n)
	}
	return nil
}

func newSnapshot(ts int64, d Data) (Snapshot, error) {
	sum, err := Checksum(d)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Version:   Version,
		Timestamp: ts,
		Data:      d,
		Metadata:  Metadata{RecordCount: d.Count(), Checksum: sum},
	}, nil
}

// rawSnapshot detects missing fields, which a plain decode would zero.
type rawSnapshot struct {
	Version   *string                    `json:"version"`
	Timestamp *int64                     `json:"timestamp"`
	Data      map[string]json.RawMessage `json:"data"`
	Metadata  *struct {
		RecordCount *int    `json:"recordCount"`
		Checksum    *string `json:"checksum"`
	} `json:"metadata"`
}

// Parse decodes and validates a serialized snapshot: every field and
// collection must be present, collections must be arrays of objects and
// both recordCount and checksum must match the data.
func Parse(b []byte) (Snapshot, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(b, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}
	switch {
	case raw.Version == nil || *raw.Version == "":
		return Snapshot{}, fmt.Errorf("%w: missing version", ErrMalformedBackup)
	case !strings.HasPrefix(*raw.Version, "1."):
		return Snapshot{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedBackup, *raw.Version)
	case raw.Timestamp == nil || *raw.Timestamp <= 0:
		return Snapshot{}, fmt.Errorf("%w: missing timestamp", ErrMalformedBackup)
	case raw.Data == nil:
		return Snapshot{}, fmt.Errorf("%w: missing data", ErrMalformedBackup)
	case raw.Metadata == nil || raw.Metadata.RecordCount == nil || raw.Metadata.Checksum == nil:
		return Snapshot{}, fmt.Errorf("%w: missing metadata", ErrMalformedBackup)
	}

	s := Snapshot{
		Version:   *raw.Version,
		Timestamp: *raw.Timestamp,
		Metadata:  Metadata{RecordCount: *raw.Metadata.RecordCount, Checksum: *raw.Metadata.Checksum},
	}
	for _, c := range Collections {
		field, ok := raw.Data[string(c)]
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: missing collection %s", ErrMalformedBackup, c)
		}
		var items []json.RawMessage
		if err := json.Unmarshal(field, &items); err != nil || items == nil {
			return Snapshot{}, fmt.Errorf("%w: collection %s is not an array", ErrMalformedBackup, c)
		}
		for i, item := range items {
			if t := bytes.TrimSpace(item); len(t) == 0 || t[0] != '{' {
				return Snapshot{}, fmt.Errorf("%w: %s[%d] is not an object", ErrMalformedBackup, c, i)
			}
		}
		s.Data.set(c, items)
	}

	if err := s.Verify(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// stripID returns a copy of rec without its "id" field.
func stripID(rec json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("record is not an object")
	}
	delete(fields, "id")
	return json.Marshal(fields)
}
