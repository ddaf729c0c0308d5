package errors

import "strconv"

// ERR is the numeric code carried by every *Error.
type ERR int32

const (
	ERR_UNKNOWN               ERR = 0
	ERR_INVALID_ARGUMENT      ERR = 1
	ERR_THRESHOLD_EXCEEDED    ERR = 2
	ERR_NOT_FOUND             ERR = 3
	ERR_PROCESSING            ERR = 4
	ERR_CONFIGURATION         ERR = 5
	ERR_CONTEXT               ERR = 6
	ERR_CONTEXT_CANCELED      ERR = 7
	ERR_ERROR                 ERR = 9
	ERR_SERVICE_UNAVAILABLE   ERR = 50
	ERR_SERVICE_NOT_STARTED   ERR = 51
	ERR_SERVICE_ERROR         ERR = 52
	ERR_STORAGE_UNAVAILABLE   ERR = 60
	ERR_STORAGE_NOT_STARTED   ERR = 61
	ERR_STORAGE_ERROR         ERR = 69
	ERR_LOCK_TIMEOUT          ERR = 70
	ERR_TRANSIENT_IO          ERR = 71
	ERR_EMPTY_PAYLOAD         ERR = 72
	ERR_CORRUPTED_CACHE_ENTRY ERR = 73
)

var ERR_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "INVALID_ARGUMENT",
	2:  "THRESHOLD_EXCEEDED",
	3:  "NOT_FOUND",
	4:  "PROCESSING",
	5:  "CONFIGURATION",
	6:  "CONTEXT",
	7:  "CONTEXT_CANCELED",
	9:  "ERROR",
	50: "SERVICE_UNAVAILABLE",
	51: "SERVICE_NOT_STARTED",
	52: "SERVICE_ERROR",
	60: "STORAGE_UNAVAILABLE",
	61: "STORAGE_NOT_STARTED",
	69: "STORAGE_ERROR",
	70: "LOCK_TIMEOUT",
	71: "TRANSIENT_IO",
	72: "EMPTY_PAYLOAD",
	73: "CORRUPTED_CACHE_ENTRY",
}

var ERR_value = func() map[string]int32 {
	m := make(map[string]int32, len(ERR_name))
	for k, v := range ERR_name {
		m[v] = k
	}

	return m
}()

func (x ERR) String() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return strconv.Itoa(int(x))
}

func (x ERR) Enum() *ERR {
	p := new(ERR)
	*p = x

	return p
}
