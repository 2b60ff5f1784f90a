package ascii

import "fmt"

// Status is the outcome of a mutation.
type Status uint8

const (
	StatusStored Status = iota + 1
	StatusNotStored
	StatusDeleted
	StatusTouched
	StatusExists
	StatusNotFound
	StatusOK // flush_all
)

func (s Status) String() string {
	switch s {
	case StatusStored:
		return WordStored
	case StatusNotStored:
		return WordNotStored
	case StatusDeleted:
		return WordDeleted
	case StatusTouched:
		return WordTouched
	case StatusExists:
		return WordExists
	case StatusNotFound:
		return WordNotFound
	case StatusOK:
		return WordOK
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// ErrorKind classifies an error line sent by the server, or a protocol
// violation detected by the client.
type ErrorKind uint8

const (
	// ErrorGeneric is an ERROR line carrying text, as sent by some proxies.
	ErrorGeneric ErrorKind = iota + 1
	// ErrorNonexistentCommand is a bare ERROR: the server did not know the command.
	ErrorNonexistentCommand
	// ErrorProtocol is an invalid reply for the command that was sent.
	ErrorProtocol
	// ErrorClient is a CLIENT_ERROR line.
	ErrorClient
	// ErrorServer is a SERVER_ERROR line.
	ErrorServer
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorGeneric:
		return "generic"
	case ErrorNonexistentCommand:
		return "nonexistent command"
	case ErrorProtocol:
		return "protocol"
	case ErrorClient:
		return "client"
	case ErrorServer:
		return "server"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Value is one record of a retrieval reply.
type Value struct {
	Key    string
	Flags  uint32
	CAS    uint64
	HasCAS bool // false when the header had no cas unique (get)
	Data   []byte
}

// ResponseKind tags the variant held by a Response.
type ResponseKind uint8

const (
	KindStatus ResponseKind = iota + 1
	KindData
	KindIncrDecr
	KindError
	KindVersion
	KindStats
)

func (k ResponseKind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindData:
		return "data"
	case KindIncrDecr:
		return "incr/decr"
	case KindError:
		return "error"
	case KindVersion:
		return "version"
	case KindStats:
		return "stats"
	default:
		return fmt.Sprintf("ResponseKind(%d)", uint8(k))
	}
}

// Response is a fully framed server reply. Only the fields of the variant
// named by Kind are meaningful.
type Response struct {
	Kind ResponseKind

	Status Status  // KindStatus
	Values []Value // KindData, empty (not nil) for a bare END
	Number uint64  // KindIncrDecr

	ErrorKind    ErrorKind // KindError
	ErrorMessage string    // KindError, empty for a bare ERROR

	Version string            // KindVersion
	Stats   map[string]string // KindStats
}

// IsMiss reports whether the response means the key does not exist.
func (r *Response) IsMiss() bool {
	switch r.Kind {
	case KindStatus:
		return r.Status == StatusNotFound
	case KindData:
		return len(r.Values) == 0
	}
	return false
}

// HasError reports whether the server answered with an error line.
func (r *Response) HasError() bool {
	return r.Kind == KindError
}

func (r *Response) String() string {
	switch r.Kind {
	case KindStatus:
		return r.Status.String()
	case KindData:
		return fmt.Sprintf("%d value(s)", len(r.Values))
	case KindIncrDecr:
		return fmt.Sprintf("%d", r.Number)
	case KindError:
		if r.ErrorMessage == "" {
			return r.ErrorKind.String() + " error"
		}
		return r.ErrorKind.String() + " error: " + r.ErrorMessage
	case KindVersion:
		return WordVersion + " " + r.Version
	case KindStats:
		return fmt.Sprintf("%d stat(s)", len(r.Stats))
	}
	return r.Kind.String()
}
