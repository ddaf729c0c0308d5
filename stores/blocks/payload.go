package blocks

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sort"

	"github.com/bsv-blockchain/blockvault/errors"
)

// Payload is the content handed to the store. It is either Bytes or Stream.
type Payload interface {
	reader() (io.ReadSeeker, error)
}

// Bytes is a payload held in memory.
type Bytes []byte

func (b Bytes) reader() (io.ReadSeeker, error) {
	return bytes.NewReader(b), nil
}

// Stream is a payload read from a seekable source, such as an open file. The source is read
// twice: once to hash it and once to write the new blocks.
type Stream struct {
	io.ReadSeeker
}

func (s Stream) reader() (io.ReadSeeker, error) {
	if s.ReadSeeker == nil {
		return nil, errors.NewInvalidArgumentError("stream payload has no reader")
	}

	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return nil, errors.NewStorageError("failed to rewind stream payload", err)
	}

	return s.ReadSeeker, nil
}

// BlockSum is one block of a scanned payload.
type BlockSum struct {
	Code string
	Size int
}

// Scan is the identity of a payload: the hash of the whole content and of each block in order.
type Scan struct {
	Code     string
	Size     int64
	Mimetype string
	Blocks   []BlockSum
}

// DistinctCodes returns the block codes of the scan without repetitions, sorted.
func (s *Scan) DistinctCodes() []string {
	seen := make(map[string]struct{}, len(s.Blocks))
	codes := make([]string, 0, len(s.Blocks))

	for _, b := range s.Blocks {
		if _, ok := seen[b.Code]; ok {
			continue
		}

		seen[b.Code] = struct{}{}
		codes = append(codes, b.Code)
	}

	sort.Strings(codes)

	return codes
}

// scan reads r once, hashing every block of blockSize bytes and the content as a whole.
func scan(r io.Reader, blockSize int) (*Scan, error) {
	var (
		s      = &Scan{}
		whole  = sha256.New()
		buf    = make([]byte, blockSize)
		sniff  []byte
		reader = io.TeeReader(r, whole)
	)

	for {
		n, err := io.ReadFull(reader, buf)
		if n > 0 {
			sum := sha256.Sum256(buf[:n])

			s.Blocks = append(s.Blocks, BlockSum{Code: hex.EncodeToString(sum[:]), Size: n})
			s.Size += int64(n)

			if len(sniff) < 512 {
				sniff = append(sniff, buf[:min(n, 512-len(sniff))]...)
			}
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}

		if err != nil {
			return nil, errors.NewStorageError("failed to read payload", err)
		}
	}

	if len(s.Blocks) == 0 {
		return nil, errors.NewEmptyPayloadError("payload has no data")
	}

	s.Code = hex.EncodeToString(whole.Sum(nil))
	s.Mimetype = http.DetectContentType(sniff)

	return s, nil
}
