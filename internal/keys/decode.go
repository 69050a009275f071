package keys

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Decode parses a canonical key encoding back into a Key. The encoding is
// self-delimiting, so trailing bytes after one complete key are an error.
// Decode(Encode(k)) returns a key Equal to k for every canonical key.
func Decode(data []byte) (Key, error) {
	k, rest, err := decodeOne(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode key: %d trailing bytes after key", len(rest))
	}
	return k, nil
}

// DecodeText parses the lowercase-hex form produced by EncodeText.
func DecodeText(text string) (Key, error) {
	data, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode key text: %w", err)
	}
	return Decode(data)
}

func decodeOne(data []byte) (Key, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("decode key: empty input")
	}
	tag, rest := data[0], data[1:]
	switch tag {
	case tagNull:
		return Null{}, rest, nil
	case tagBool:
		if len(rest) < 1 {
			return nil, nil, fmt.Errorf("decode key: truncated bool")
		}
		return Bool(rest[0] != 0), rest[1:], nil
	case tagInt:
		if len(rest) < 8 {
			return nil, nil, fmt.Errorf("decode key: truncated int")
		}
		u := binary.BigEndian.Uint64(rest[:8])
		return Int(int64(u ^ (1 << 63))), rest[8:], nil
	case tagString:
		payload, rest, err := decodeLenPrefixed(rest, "string")
		if err != nil {
			return nil, nil, err
		}
		return String(payload), rest, nil
	case tagBytes:
		payload, rest, err := decodeLenPrefixed(rest, "bytes")
		if err != nil {
			return nil, nil, err
		}
		b := make([]byte, len(payload))
		copy(b, payload)
		return Bytes(b), rest, nil
	case tagUUID:
		if len(rest) < 16 {
			return nil, nil, fmt.Errorf("decode key: truncated uuid")
		}
		var u uuid.UUID
		copy(u[:], rest[:16])
		return UUID(u), rest[16:], nil
	case tagTuple:
		n, consumed := binary.Uvarint(rest)
		if consumed <= 0 {
			return nil, nil, fmt.Errorf("decode key: bad tuple length")
		}
		rest = rest[consumed:]
		t := make(Tuple, 0, n)
		for i := uint64(0); i < n; i++ {
			var (
				elem Key
				err  error
			)
			elem, rest, err = decodeOne(rest)
			if err != nil {
				return nil, nil, err
			}
			t = append(t, elem)
		}
		return t, rest, nil
	default:
		return nil, nil, fmt.Errorf("decode key: unknown tag 0x%02x", tag)
	}
}

func decodeLenPrefixed(data []byte, what string) ([]byte, []byte, error) {
	n, consumed := binary.Uvarint(data)
	if consumed <= 0 {
		return nil, nil, fmt.Errorf("decode key: bad %s length", what)
	}
	data = data[consumed:]
	if uint64(len(data)) < n {
		return nil, nil, fmt.Errorf("decode key: truncated %s", what)
	}
	return data[:n], data[n:], nil
}
