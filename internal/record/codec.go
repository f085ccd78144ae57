package record

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/zerofinancial/relay/pkg/id"
)

// Encoded layout: headerLen(4B BE) | header | payload | crc32c(header|payload)
//
// header: id(16) | createdAtMs(8) | retryCount(4) | taskIDLen(2) | taskID
// payload: JSON-encoded Payload

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorrupt is returned when a stored value fails its checksum or framing.
var ErrCorrupt = errors.New("record: corrupt encoding")

const fixedHeaderLen = 16 + 8 + 4 + 2

// Encode serializes r for storage.
func Encode(r LogRecord) ([]byte, error) {
	if len(r.TaskID) > 0xFFFF {
		return nil, fmt.Errorf("record: task id too long (%d bytes)", len(r.TaskID))
	}
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("record: marshal payload: %w", err)
	}

	header := make([]byte, fixedHeaderLen+len(r.TaskID))
	copy(header[:16], r.ID[:])
	binary.BigEndian.PutUint64(header[16:24], uint64(r.CreatedAt.UnixMilli()))
	binary.BigEndian.PutUint32(header[24:28], uint32(r.RetryCount))
	binary.BigEndian.PutUint16(header[28:30], uint16(len(r.TaskID)))
	copy(header[30:], r.TaskID)

	out := make([]byte, 0, 4+len(header)+len(payload)+4)
	out = binary.BigEndian.AppendUint32(out, uint32(len(header)))
	out = append(out, header...)
	out = append(out, payload...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc), nil
}

// Decode parses a value produced by Encode.
func Decode(b []byte) (LogRecord, error) {
	if len(b) < 8 {
		return LogRecord{}, ErrCorrupt
	}
	hlen := int(binary.BigEndian.Uint32(b[:4]))
	if hlen < fixedHeaderLen || 4+hlen+4 > len(b) {
		return LogRecord{}, ErrCorrupt
	}
	header := b[4 : 4+hlen]
	payload := b[4+hlen : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return LogRecord{}, ErrCorrupt
	}

	tlen := int(binary.BigEndian.Uint16(header[28:30]))
	if fixedHeaderLen+tlen != hlen {
		return LogRecord{}, ErrCorrupt
	}
	var r LogRecord
	recID, err := id.FromBytes(header[:16])
	if err != nil {
		return LogRecord{}, ErrCorrupt
	}
	r.ID = recID
	r.CreatedAt = time.UnixMilli(int64(binary.BigEndian.Uint64(header[16:24]))).UTC()
	r.RetryCount = int(binary.BigEndian.Uint32(header[24:28]))
	r.TaskID = string(header[30:])
	if r.Payload, err = decodePayload(payload); err != nil {
		return LogRecord{}, err
	}
	return r, nil
}

func decodePayload(b []byte) (Payload, error) {
	var raw struct {
		Payload
		Context json.RawMessage `json:"context,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Payload{}, fmt.Errorf("record: unmarshal payload: %w", err)
	}
	p := raw.Payload
	if len(raw.Context) > 0 && string(raw.Context) != "null" {
		ctx, err := DecodeContext(raw.Context)
		if err != nil {
			return Payload{}, err
		}
		p.Context = ctx
	}
	return p, nil
}
