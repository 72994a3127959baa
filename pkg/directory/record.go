package directory

import (
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Record tells where a named service is served.
type Record struct {
	// Name of the service, unique in the cluster.
	Name string

	// Node is the memberlist name of the node which registered it.
	Node string

	// Address the object is served on, as accepted by `transport.Client`.
	Address string

	ObjectID string

	// Revision orders the updates of a name across the cluster. Ties are
	// broken by the node name.
	Revision uint64

	// Deleted marks a tombstone left by an unregistration.
	Deleted bool

	// seen is when this node stored the record, used to reap tombstones.
	seen time.Time
}

// supersedes is the last-writer-wins rule.
func (r *Record) supersedes(other *Record) bool {
	if r.Revision != other.Revision {
		return r.Revision > other.Revision
	}
	if r.Node != other.Node {
		return r.Node > other.Node
	}
	// Same writer and revision: only a tombstone wins, so an unregistration
	// is never undone by a duplicate.
	return r.Deleted && !other.Deleted
}

func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", r.Name),
		slog.String("node", r.Node),
		slog.String("address", r.Address),
		slog.Uint64("revision", r.Revision),
		slog.Bool("deleted", r.Deleted),
	)
}

const (
	fieldName     protowire.Number = 1
	fieldNode     protowire.Number = 2
	fieldAddress  protowire.Number = 3
	fieldObjectID protowire.Number = 4
	fieldRevision protowire.Number = 5
	fieldDeleted  protowire.Number = 6

	// state frames are a repeated record field.
	fieldRecord protowire.Number = 1
)

func appendRecord(b []byte, r *Record) []byte {
	b = appendString(b, fieldName, r.Name)
	b = appendString(b, fieldNode, r.Node)
	b = appendString(b, fieldAddress, r.Address)
	b = appendString(b, fieldObjectID, r.ObjectID)
	b = protowire.AppendTag(b, fieldRevision, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Revision)
	if r.Deleted {
		b = protowire.AppendTag(b, fieldDeleted, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func encodeRecord(r *Record) []byte {
	return appendRecord(nil, r)
}

func decodeRecord(b []byte) (*Record, error) {
	r := &Record{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, x uint64) error {
		switch {
		case num == fieldName && typ == protowire.BytesType:
			r.Name = string(raw)
		case num == fieldNode && typ == protowire.BytesType:
			r.Node = string(raw)
		case num == fieldAddress && typ == protowire.BytesType:
			r.Address = string(raw)
		case num == fieldObjectID && typ == protowire.BytesType:
			r.ObjectID = string(raw)
		case num == fieldRevision && typ == protowire.VarintType:
			r.Revision = x
		case num == fieldDeleted && typ == protowire.VarintType:
			r.Deleted = protowire.DecodeBool(x)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.Name == "" || r.Node == "" || r.Revision == 0 {
		return nil, fmt.Errorf("%w: incomplete record", ErrInvalidFrame)
	}
	return r, nil
}

func encodeState(records []*Record) []byte {
	var b []byte
	for _, r := range records {
		b = protowire.AppendTag(b, fieldRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeRecord(r))
	}
	return b
}

func decodeState(b []byte) ([]*Record, error) {
	var records []*Record
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if num != fieldRecord || typ != protowire.BytesType {
			return nil
		}
		r, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		records = append(records, r)
		return nil
	})
	return records, err
}

// walkFields calls fn for every varint or length-delimited field of b,
// skipping the other wire types.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrInvalidFrame, protowire.ParseError(n))
		}
		b = b[n:]

		var (
			raw []byte
			x   uint64
		)
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrInvalidFrame, protowire.ParseError(n))
		}
		b = b[n:]

		if typ == protowire.VarintType || typ == protowire.BytesType {
			if err := fn(num, typ, raw, x); err != nil {
				return err
			}
		}
	}
	return nil
}
