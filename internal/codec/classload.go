package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/vmtel/vmeventbuf/pkg/event"
)

// ClassLoadSize returns the encoded size of a class-load record. With
// withSource false the source field is elided, either because the record
// back-references an earlier one or because there is no source at all.
func ClassLoadSize(ev event.ClassLoadEvent, withSource bool) uint32 {
	size := uint32(headerSize + 8)
	if len(ev.OriginalHash) == event.HashSize {
		size += event.HashSize
	}
	if len(ev.Hash) == event.HashSize {
		size += event.HashSize
	}
	size += 2 + uint32(len(ev.Name))
	if withSource {
		size += 2 + uint32(len(ev.Source))
	}
	return size
}

// EncodeClassLoad writes the record into dst, which must be exactly the
// size returned by ClassLoadSize for the same arguments. sameSource marks
// the record as sharing the source of the buffer's back-referenced record;
// it is mutually exclusive with withSource.
func EncodeClassLoad(dst []byte, ev event.ClassLoadEvent, withSource, sameSource bool) {
	var flags byte
	if len(ev.OriginalHash) == event.HashSize {
		flags |= flagOriginalHash
	}
	if len(ev.Hash) == event.HashSize {
		flags |= flagHash
	}
	if withSource {
		flags |= flagSource
	}
	if sameSource {
		flags |= flagSameSource
	}
	putHeader(dst, typeClassLoad, flags)

	p := headerSize
	binary.BigEndian.PutUint32(dst[p:], ev.LoaderID)
	p += 4
	binary.BigEndian.PutUint32(dst[p:], ev.ClassID)
	p += 4
	if flags&flagOriginalHash != 0 {
		p += copy(dst[p:], ev.OriginalHash)
	}
	if flags&flagHash != 0 {
		p += copy(dst[p:], ev.Hash)
	}
	p += putString(dst[p:], ev.Name)
	if withSource {
		putString(dst[p:], ev.Source)
	}
}

// SourceAt reads the inline source string of the class-load record at off.
// It returns false when off does not hold a class-load record with an
// inline source, which makes a stale or corrupted back-reference resolve
// to "write the source again" rather than to garbage.
func SourceAt(data []byte, off uint32) (string, bool) {
	if int(off)+headerSize > len(data) {
		return "", false
	}
	rec := data[off:]
	if rec[0] != typeClassLoad {
		return "", false
	}
	flags := rec[1]
	if flags&flagSource == 0 {
		return "", false
	}
	size := binary.BigEndian.Uint16(rec[2:4])
	if int(size) < headerSize || int(size) > len(rec) {
		return "", false
	}
	rec = rec[:size]

	p := headerSize + 8
	if flags&flagOriginalHash != 0 {
		p += event.HashSize
	}
	if flags&flagHash != 0 {
		p += event.HashSize
	}
	if p+2 > len(rec) {
		return "", false
	}
	p += 2 + int(binary.BigEndian.Uint16(rec[p:]))
	if p+2 > len(rec) {
		return "", false
	}
	n := int(binary.BigEndian.Uint16(rec[p:]))
	p += 2
	if p+n > len(rec) {
		return "", false
	}
	return string(rec[p : p+n]), true
}

func decodeClassLoad(rec []byte, flags byte) (event.ClassLoadEvent, error) {
	var ev event.ClassLoadEvent
	p := headerSize
	if p+8 > len(rec) {
		return ev, fmt.Errorf("class-load record of %d bytes truncated", len(rec))
	}
	ev.LoaderID = binary.BigEndian.Uint32(rec[p:])
	p += 4
	ev.ClassID = binary.BigEndian.Uint32(rec[p:])
	p += 4

	if flags&flagOriginalHash != 0 {
		if p+event.HashSize > len(rec) {
			return ev, fmt.Errorf("original hash at %d past record end", p)
		}
		ev.OriginalHash = append([]byte(nil), rec[p:p+event.HashSize]...)
		p += event.HashSize
	}
	if flags&flagHash != 0 {
		if p+event.HashSize > len(rec) {
			return ev, fmt.Errorf("hash at %d past record end", p)
		}
		ev.Hash = append([]byte(nil), rec[p:p+event.HashSize]...)
		p += event.HashSize
	}

	name, p, err := getString(rec, p)
	if err != nil {
		return ev, err
	}
	ev.Name = name

	if flags&flagSource != 0 {
		source, _, err := getString(rec, p)
		if err != nil {
			return ev, err
		}
		ev.Source = source
	}
	return ev, nil
}
