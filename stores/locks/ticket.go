package locks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const holderSuffix = ".holder"

// ticket is one line of a ticket file: "domain pid ticket_id".
type ticket struct {
	domain   string
	pid      int
	id       string
	position int
}

func (t ticket) line() string {
	return fmt.Sprintf("%s %d %s", t.domain, t.pid, t.id)
}

func parseTicket(line string) (ticket, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return ticket{}, false
	}

	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return ticket{}, false
	}

	return ticket{domain: fields[0], pid: pid, id: fields[2]}, true
}

// splitTicketLines returns the complete lines of a ticket file. A trailing line without newline
// is still being written and is ignored.
func splitTicketLines(data []byte) []string {
	s := string(data)

	end := strings.LastIndexByte(s, '\n')
	if end < 0 {
		return nil
	}

	return strings.Split(s[:end], "\n")
}

func markerPath(lockPath string, position int) string {
	return lockPath + "." + strconv.Itoa(position)
}

func holderPath(lockPath string) string {
	return lockPath + holderSuffix
}

type marker struct {
	path     string
	position int
}

// listMarkers returns the waiting markers of lockPath in ascending position.
func listMarkers(lockPath string) ([]marker, error) {
	dir, base := filepath.Split(lockPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	prefix := base + "."

	var markers []marker

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		position, err := strconv.Atoi(name[len(prefix):])
		if err != nil || position < 0 {
			continue
		}

		markers = append(markers, marker{path: filepath.Join(dir, name), position: position})
	}

	sort.Slice(markers, func(i, j int) bool {
		return markers[i].position < markers[j].position
	})

	return markers, nil
}

// isTicketFile reports whether name is a base ticket file and not a marker, holder or temp file.
func isTicketFile(name string) bool {
	return len(name) == 64 && !strings.ContainsRune(name, '.')
}
