package lsm

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/golang/snappy"
)

// WAL record frame:
//
//	u8  flags          bit 0: payload is snappy-compressed
//	u32 payload_len
//	payload            u16 key_len || key || u16 value_len || value
//	u32 crc32(payload)
//
// Integers big-endian, matching the table formats. A torn or corrupt tail
// record ends replay without error; everything before it is recovered.

const walFlagCompressed = 1 << 0

// WAL is a per-memtable write-ahead log
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	path     string
	compress bool
}

// NewWAL creates (or truncates) a log file at path
func NewWAL(path string, compress bool) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, opError("NewWAL", err)
	}
	return &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		path:     path,
		compress: compress,
	}, nil
}

// Append writes one key-value record. Tombstones are records with an empty
// value.
func (w *WAL) Append(key, value []byte) error {
	payload := make([]byte, 0, 2*sizeofU16+len(key)+len(value))
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(key)))
	payload = append(payload, key...)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(value)))
	payload = append(payload, value...)

	var flags byte
	if w.compress {
		payload = snappy.Encode(nil, payload)
		flags |= walFlagCompressed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.WriteByte(flags); err != nil {
		return opError("Append", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.writer.Write(lenBuf[:]); err != nil {
		return opError("Append", err)
	}
	if _, err := w.writer.Write(payload); err != nil {
		return opError("Append", err)
	}
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(payload))
	if _, err := w.writer.Write(crcBuf[:]); err != nil {
		return opError("Append", err)
	}
	return nil
}

// Sync flushes buffered records and fsyncs the file
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return opError("Sync", err)
	}
	return w.file.Sync()
}

// Close flushes and closes the file
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return opError("Close", err)
	}
	return w.file.Close()
}

// Path returns the log file path
func (w *WAL) Path() string {
	return w.path
}

// ReplayWAL reads every intact record from path, invoking fn in append
// order. Replay stops silently at the first torn or corrupt record.
func ReplayWAL(path string, fn func(key, value []byte)) error {
	file, err := os.Open(path)
	if err != nil {
		return opError("ReplayWAL", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		flags, err := reader.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return opError("ReplayWAL", err)
		}

		var lenBuf [4]byte
		if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
			return nil
		}
		payload := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(reader, crcBuf[:]); err != nil {
			return nil
		}
		if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(crcBuf[:]) {
			return nil
		}

		if flags&walFlagCompressed != 0 {
			payload, err = snappy.Decode(nil, payload)
			if err != nil {
				return nil
			}
		}

		if len(payload) < sizeofU16 {
			return nil
		}
		keyLen := int(binary.BigEndian.Uint16(payload))
		if len(payload) < sizeofU16+keyLen+sizeofU16 {
			return nil
		}
		key := payload[sizeofU16 : sizeofU16+keyLen]
		valueLen := int(binary.BigEndian.Uint16(payload[sizeofU16+keyLen:]))
		valueStart := 2*sizeofU16 + keyLen
		if len(payload) < valueStart+valueLen {
			return nil
		}
		value := payload[valueStart : valueStart+valueLen]

		fn(key, value)
	}
}
