package ascii

// Command is a text protocol command name.
type Command string

// Protocol delimiters
const (
	// CRLF is the line terminator for the memcached protocol
	CRLF = "\r\n"

	// Space separates command tokens
	Space = " "
)

// Storage commands.
//
// Wire format: <cmd> <key> <flags> <exptime> <bytes> [<cas unique>] [noreply]\r\n<data>\r\n
//
// Response: STORED, NOT_STORED, EXISTS or NOT_FOUND.
const (
	CmdSet     Command = "set"
	CmdAdd     Command = "add"
	CmdReplace Command = "replace"
	CmdAppend  Command = "append"
	CmdPrepend Command = "prepend"

	// CmdCAS is the only storage command carrying a cas unique.
	// EXISTS means the item was modified since it was fetched,
	// NOT_FOUND means it was evicted or deleted.
	CmdCAS Command = "cas"
)

// Retrieval commands.
//
// Wire format: get <key>*\r\n
//
// Response: (VALUE <key> <flags> <bytes> [<cas unique>]\r\n<data>\r\n)* END\r\n
const (
	CmdGet  Command = "get"
	CmdGets Command = "gets" // same as get, but every VALUE line carries a cas unique
)

// Other commands.
const (
	CmdDelete   Command = "delete"    // delete <key> [noreply]\r\n
	CmdTouch    Command = "touch"     // touch <key> <exptime> [noreply]\r\n
	CmdIncr     Command = "incr"      // incr <key> <amount>\r\n
	CmdDecr     Command = "decr"      // decr <key> <amount>\r\n
	CmdVersion  Command = "version"   // version\r\n
	CmdFlushAll Command = "flush_all" // flush_all [<delay>]\r\n
	CmdStats    Command = "stats"     // stats [<group>]\r\n
)

// Response keywords
const (
	WordStored    = "STORED"
	WordNotStored = "NOT_STORED"
	WordExists    = "EXISTS"
	WordNotFound  = "NOT_FOUND"
	WordDeleted   = "DELETED"
	WordTouched   = "TOUCHED"
	WordOK        = "OK"

	WordValue   = "VALUE"
	WordEnd     = "END"
	WordStat    = "STAT"
	WordVersion = "VERSION"

	WordError       = "ERROR"
	WordClientError = "CLIENT_ERROR"
	WordServerError = "SERVER_ERROR"

	WordNoReply = "noreply"
)

// Protocol limits
const (
	MinKeyLength = 1
	MaxKeyLength = 250
)

// IsStorage reports whether the command carries a data block.
func (c Command) IsStorage() bool {
	switch c {
	case CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend, CmdCAS:
		return true
	default:
		return false
	}
}

// IsRetrieval reports whether the command is get or gets.
func (c Command) IsRetrieval() bool {
	return c == CmdGet || c == CmdGets
}

// SupportsNoReply reports whether the grammar accepts a trailing noreply.
func (c Command) SupportsNoReply() bool {
	return c.IsStorage() || c == CmdDelete || c == CmdTouch
}

// Accepts reports whether resp is a legal reply to the command.
// Server-reported errors are legal replies to any command.
func (c Command) Accepts(resp *Response) bool {
	if resp.Kind == KindError {
		return true
	}

	switch {
	case c.IsStorage():
		if resp.Kind != KindStatus {
			return false
		}
		switch resp.Status {
		case StatusStored, StatusNotStored, StatusExists, StatusNotFound:
			return true
		}
		return false

	case c.IsRetrieval():
		return resp.Kind == KindData
	}

	switch c {
	case CmdDelete:
		return resp.Kind == KindStatus && (resp.Status == StatusDeleted || resp.Status == StatusNotFound)
	case CmdTouch:
		return resp.Kind == KindStatus && (resp.Status == StatusTouched || resp.Status == StatusNotFound)
	case CmdIncr, CmdDecr:
		return resp.Kind == KindIncrDecr || (resp.Kind == KindStatus && resp.Status == StatusNotFound)
	case CmdVersion:
		return resp.Kind == KindVersion
	case CmdFlushAll:
		return resp.Kind == KindStatus && resp.Status == StatusOK
	case CmdStats:
		// An empty stats group answers with a bare END.
		return resp.Kind == KindStats || (resp.Kind == KindData && len(resp.Values) == 0)
	}
	return false
}

// NoReplyStatus is the status synthesized for a command sent with noreply.
func (c Command) NoReplyStatus() Status {
	switch c {
	case CmdDelete:
		return StatusDeleted
	case CmdTouch:
		return StatusTouched
	default:
		return StatusStored
	}
}
