// Package bytesize parses human readable sizes such as "1MB" or "512 KiB". Units are binary.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bsv-blockchain/blockvault/errors"
)

// ByteSize represents a memory size in bytes
type ByteSize int64

const (
	B  ByteSize = 1
	KB          = B * 1024
	MB          = KB * 1024
	GB          = MB * 1024
	TB          = GB * 1024
)

func Parse(s string) (ByteSize, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.NewInvalidArgumentError("empty size")
	}

	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})

	numPart, unit := s, "B"
	if i != -1 {
		numPart, unit = s[:i], strings.TrimSpace(s[i:])
	}

	num, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, errors.NewInvalidArgumentError("invalid number %q", numPart, err)
	}

	if num < 0 {
		return 0, errors.NewInvalidArgumentError("negative size %q", s)
	}

	var multiplier ByteSize

	switch strings.TrimSuffix(unit, "IB") {
	case "B", "":
		multiplier = B
	case "KB", "K":
		multiplier = KB
	case "MB", "M":
		multiplier = MB
	case "GB", "G":
		multiplier = GB
	case "TB", "T":
		multiplier = TB
	default:
		return 0, errors.NewInvalidArgumentError("invalid unit %v", unit)
	}

	return ByteSize(num * float64(multiplier)), nil
}

// String returns a human-readable string representation of the ByteSize
func (b ByteSize) String() string {
	abs := b
	if b < 0 {
		abs = -b
	}

	switch {
	case abs >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case abs >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case abs >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case abs >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func (b ByteSize) Int() int {
	return int(b)
}
