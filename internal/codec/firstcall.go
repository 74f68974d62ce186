package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/vmtel/vmeventbuf/pkg/event"
)

// FirstCallSize returns the encoded size of a first-call record.
func FirstCallSize(ev event.FirstCallEvent) uint32 {
	return uint32(headerSize + 4 + 2 + len(ev.Method))
}

// EncodeFirstCall writes the record into dst, which must be exactly the
// size returned by FirstCallSize.
func EncodeFirstCall(dst []byte, ev event.FirstCallEvent) {
	putHeader(dst, typeFirstCall, 0)
	p := headerSize
	binary.BigEndian.PutUint32(dst[p:], ev.HolderID)
	p += 4
	putString(dst[p:], ev.Method)
}

func decodeFirstCall(rec []byte) (event.FirstCallEvent, error) {
	var ev event.FirstCallEvent
	p := headerSize
	if p+4 > len(rec) {
		return ev, fmt.Errorf("first-call record of %d bytes truncated", len(rec))
	}
	ev.HolderID = binary.BigEndian.Uint32(rec[p:])
	p += 4

	method, _, err := getString(rec, p)
	if err != nil {
		return ev, err
	}
	ev.Method = method
	return ev, nil
}
