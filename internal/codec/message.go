// Package codec defines the wire layout of buffered telemetry records and
// the in-place encoders and decoders for them. Records are written directly
// into leased pool buffers; a flushed buffer is a dense sequence of records
// walked by the Iterator.
//
// Every record starts with a four byte header: type (u8), flags (u8) and
// size (u16, big-endian). The size covers the whole record including the
// header and is authoritative: readers skip unknown types by size alone,
// rounding up to the next 8-byte boundary for the following record.
package codec

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/vmtel/vmeventbuf/internal/errors"
	"github.com/vmtel/vmeventbuf/pkg/event"
)

const headerSize = 4

// MaxRecordSize is the largest encodable record. The header size field is
// a u16, so a record must stay below 64KiB even when the buffer itself is
// that large.
const MaxRecordSize = 1<<16 - 1

// Record type bytes. They match the non-negative event kinds.
const (
	typeClassLoad = 0
	typeFirstCall = 1
)

// Back-reference slot indices, one per deduplicatable record type.
const (
	SlotClassLoad = 0
	SlotFirstCall = 1
)

// Class-load flag bits.
const (
	flagOriginalHash = 1 << 0
	flagHash         = 1 << 1
	flagSource       = 1 << 2
	flagSameSource   = 1 << 3
)

func putHeader(dst []byte, typ, flags byte) {
	dst[0] = typ
	dst[1] = flags
	binary.BigEndian.PutUint16(dst[2:4], uint16(len(dst)))
}

func putString(dst []byte, s string) int {
	binary.BigEndian.PutUint16(dst, uint16(len(s)))
	copy(dst[2:], s)
	return 2 + len(s)
}

func getString(rec []byte, p int) (string, int, error) {
	if p+2 > len(rec) {
		return "", 0, fmt.Errorf("string length at %d past record end", p)
	}
	n := int(binary.BigEndian.Uint16(rec[p:]))
	p += 2
	if p+n > len(rec) {
		return "", 0, fmt.Errorf("string of %d bytes at %d past record end", n, p)
	}
	return string(rec[p : p+n]), p + n, nil
}

func align8(n uint32) uint32 { return (n + 7) &^ 7 }

// Iterator walks the records of one flushed buffer. Same-source class-load
// records resolve against the most recent record that carried an inline
// source, exactly mirroring how the writer recorded the back-reference.
type Iterator struct {
	data []byte
	off  uint32
	err  error

	kind       event.Kind
	classLoad  event.ClassLoadEvent
	firstCall  event.FirstCallEvent
	lastSource string
}

// NewIterator returns an iterator over the written bytes of a buffer.
func NewIterator(data []byte) *Iterator {
	return &Iterator{data: data}
}

// Next advances to the next decodable record. It returns false at the end
// of the data or on a malformed record; Err distinguishes the two. Records
// of unknown type are skipped by their size.
func (it *Iterator) Next() bool {
	for {
		if it.err != nil || int(it.off)+headerSize > len(it.data) {
			return false
		}
		recOff := it.off
		rec := it.data[recOff:]
		typ := rec[0]
		flags := rec[1]
		size := binary.BigEndian.Uint16(rec[2:4])
		if int(size) < headerSize || int(size) > len(rec) {
			it.fail(event.Kind(typ), recOff, "record size out of range")
			return false
		}
		body := rec[:size]
		it.off += align8(uint32(size))

		switch typ {
		case typeClassLoad:
			ev, err := decodeClassLoad(body, flags)
			if err != nil {
				it.fail(event.KindClassLoad, recOff, err.Error())
				return false
			}
			if flags&flagSameSource != 0 {
				if it.lastSource == "" {
					it.fail(event.KindClassLoad, recOff, "source reference without antecedent")
					return false
				}
				ev.Source = it.lastSource
			} else if flags&flagSource != 0 {
				it.lastSource = ev.Source
			}
			it.kind = event.KindClassLoad
			it.classLoad = ev
			return true

		case typeFirstCall:
			ev, err := decodeFirstCall(body)
			if err != nil {
				it.fail(event.KindFirstCall, recOff, err.Error())
				return false
			}
			it.kind = event.KindFirstCall
			it.firstCall = ev
			return true

		default:
			// Unknown type; the size field lets us step over it.
		}
	}
}

// Kind returns the type of the current record.
func (it *Iterator) Kind() event.Kind { return it.kind }

// ClassLoad returns the current record as a class-load event. Only valid
// when Kind is KindClassLoad.
func (it *Iterator) ClassLoad() event.ClassLoadEvent { return it.classLoad }

// FirstCall returns the current record as a first-call event. Only valid
// when Kind is KindFirstCall.
func (it *Iterator) FirstCall() event.FirstCallEvent { return it.firstCall }

// Err returns the decode error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

func (it *Iterator) fail(kind event.Kind, off uint32, reason string) {
	it.err = &apperrors.DecodeError{Kind: kind, Offset: off, Reason: reason}
}
