package ascii

import (
	"bytes"
	"strconv"
)

// Pre-allocated byte slices for comparisons (avoid allocation in hot path)
var (
	crlfBytes = []byte(CRLF)

	storedBytes    = []byte(WordStored)
	notStoredBytes = []byte(WordNotStored)
	existsBytes    = []byte(WordExists)
	notFoundBytes  = []byte(WordNotFound)
	deletedBytes   = []byte(WordDeleted)
	touchedBytes   = []byte(WordTouched)
	okBytes        = []byte(WordOK)
	endBytes       = []byte(WordEnd)
	errorBytes     = []byte(WordError)

	valuePrefix       = []byte(WordValue + " ")
	statPrefix        = []byte(WordStat + " ")
	versionPrefix     = []byte(WordVersion + " ")
	errorPrefix       = []byte(WordError + " ")
	clientErrorPrefix = []byte(WordClientError)
	serverErrorPrefix = []byte(WordServerError)
)

// Parse frames one response out of data.
//
// It follows the bufio.SplitFunc convention:
//   - advance > 0, resp != nil: a complete response was framed from data[:advance].
//   - 0, nil, nil: data holds no complete response yet. Read more bytes,
//     append them to data and call Parse again with the whole buffer.
//   - err != nil: data can never be framed, err is a *ParseError.
//
// Parse does no I/O and never modifies data. Values in the response do not
// alias data, so the buffer can be reused once Parse returns. Bytes after
// data[:advance] are not inspected and belong to whatever follows.
//
// Server error lines (ERROR, CLIENT_ERROR, SERVER_ERROR) are successful
// parses yielding a KindError response: the stream is still in sync.
func Parse(data []byte) (advance int, resp *Response, err error) {
	line, next, ok := readLine(data, 0)
	if !ok {
		return 0, nil, nil
	}

	if len(line) == 0 {
		return 0, nil, newParseError("empty response line", nil, nil)
	}

	switch line[0] {
	case 'S':
		if bytes.Equal(line, storedBytes) {
			return next, statusResponse(StatusStored), nil
		}
		if bytes.HasPrefix(line, statPrefix) {
			return parseStats(data)
		}
		if msg, ok := cutErrorPrefix(line, serverErrorPrefix); ok {
			return next, errorResponse(ErrorServer, msg), nil
		}

	case 'N':
		if bytes.Equal(line, notFoundBytes) {
			return next, statusResponse(StatusNotFound), nil
		}
		if bytes.Equal(line, notStoredBytes) {
			return next, statusResponse(StatusNotStored), nil
		}

	case 'E':
		if bytes.Equal(line, endBytes) {
			return next, &Response{Kind: KindData, Values: []Value{}}, nil
		}
		if bytes.Equal(line, existsBytes) {
			return next, statusResponse(StatusExists), nil
		}
		if bytes.Equal(line, errorBytes) {
			return next, errorResponse(ErrorNonexistentCommand, ""), nil
		}
		if msg, ok := bytes.CutPrefix(line, errorPrefix); ok {
			return next, errorResponse(ErrorGeneric, string(msg)), nil
		}

	case 'D':
		if bytes.Equal(line, deletedBytes) {
			return next, statusResponse(StatusDeleted), nil
		}

	case 'T':
		if bytes.Equal(line, touchedBytes) {
			return next, statusResponse(StatusTouched), nil
		}

	case 'O':
		if bytes.Equal(line, okBytes) {
			return next, statusResponse(StatusOK), nil
		}

	case 'V':
		if bytes.HasPrefix(line, valuePrefix) {
			return parseData(data)
		}
		if version, ok := bytes.CutPrefix(line, versionPrefix); ok {
			return next, &Response{Kind: KindVersion, Version: string(version)}, nil
		}

	case 'C':
		if msg, ok := cutErrorPrefix(line, clientErrorPrefix); ok {
			return next, errorResponse(ErrorClient, msg), nil
		}

	case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		// incr/decr reply. Some servers pad the number with spaces.
		digits := bytes.TrimRight(line, " ")
		n, err := strconv.ParseUint(string(digits), 10, 64)
		if err != nil {
			return 0, nil, newParseError("invalid incr/decr value", line, err)
		}
		return next, &Response{Kind: KindIncrDecr, Number: n}, nil
	}

	return 0, nil, newParseError("unexpected response", line, nil)
}

// parseData frames a retrieval reply: (VALUE ...\r\n<data>\r\n)* END\r\n.
// Nothing is copied until the END line has been seen.
func parseData(data []byte) (int, *Response, error) {
	var (
		pos    int
		values []Value
		blocks [][]byte
	)

	for {
		line, next, ok := readLine(data, pos)
		if !ok {
			return 0, nil, nil
		}

		if bytes.Equal(line, endBytes) {
			if values == nil {
				values = []Value{}
			}
			for i := range values {
				values[i].Data = bytes.Clone(blocks[i])
			}
			return next, &Response{Kind: KindData, Values: values}, nil
		}

		header, ok := bytes.CutPrefix(line, valuePrefix)
		if !ok {
			return 0, nil, newParseError("expected VALUE or END", line, nil)
		}

		value, size, err := parseValueHeader(header)
		if err != nil {
			return 0, nil, newParseError("invalid VALUE header", line, err)
		}

		if uint64(len(data)-next) < size+2 {
			return 0, nil, nil
		}

		end := next + int(size)
		if data[end] != '\r' || data[end+1] != '\n' {
			return 0, nil, newParseError("invalid data block terminator", line, nil)
		}

		values = append(values, value)
		blocks = append(blocks, data[next:end])
		pos = end + 2
	}
}

type headerError string

func (e headerError) Error() string { return string(e) }

// parseValueHeader parses "<key> <flags> <bytes>[ <cas unique>]".
func parseValueHeader(header []byte) (Value, uint64, error) {
	fields := bytes.Fields(header)
	if len(fields) != 3 && len(fields) != 4 {
		return Value{}, 0, headerError("expected 3 or 4 fields, got " + strconv.Itoa(len(fields)))
	}

	flags, err := strconv.ParseUint(string(fields[1]), 10, 32)
	if err != nil {
		return Value{}, 0, err
	}

	size, err := strconv.ParseUint(string(fields[2]), 10, 32)
	if err != nil {
		return Value{}, 0, err
	}

	value := Value{
		Key:   string(fields[0]),
		Flags: uint32(flags),
	}

	if len(fields) == 4 {
		value.CAS, err = strconv.ParseUint(string(fields[3]), 10, 64)
		if err != nil {
			return Value{}, 0, err
		}
		value.HasCAS = true
	}

	return value, size, nil
}

// parseStats frames a stats reply: (STAT <name> <value>\r\n)* END\r\n.
// The value may contain spaces.
func parseStats(data []byte) (int, *Response, error) {
	// First pass: frame and check the reply without allocating
	pos := 0
	count := 0
	for {
		line, next, ok := readLine(data, pos)
		if !ok {
			return 0, nil, nil
		}
		pos = next
		if bytes.Equal(line, endBytes) {
			break
		}
		if _, _, err := parseStatLine(line); err != nil {
			return 0, nil, err
		}
		count++
	}

	stats := make(map[string]string, count)
	pos = 0
	for {
		line, next, _ := readLine(data, pos)
		pos = next
		if bytes.Equal(line, endBytes) {
			return pos, &Response{Kind: KindStats, Stats: stats}, nil
		}

		name, value, _ := parseStatLine(line)
		stats[string(name)] = string(value)
	}
}

// parseStatLine splits "STAT <name> <value>".
func parseStatLine(line []byte) (name, value []byte, err error) {
	stat, ok := bytes.CutPrefix(line, statPrefix)
	if !ok {
		return nil, nil, newParseError("expected STAT or END", line, nil)
	}

	name, value, ok = bytes.Cut(stat, []byte(Space))
	if !ok || len(name) == 0 {
		return nil, nil, newParseError("invalid STAT line", line, nil)
	}
	return name, value, nil
}

// cutErrorPrefix matches "<prefix>" or "<prefix> <message>".
func cutErrorPrefix(line, prefix []byte) (string, bool) {
	rest, ok := bytes.CutPrefix(line, prefix)
	if !ok {
		return "", false
	}
	if len(rest) == 0 {
		return "", true
	}
	if rest[0] != ' ' {
		return "", false
	}
	return string(rest[1:]), true
}

// readLine returns the line starting at data[pos:] without its terminator,
// and the position right after the terminator.
func readLine(data []byte, pos int) (line []byte, next int, ok bool) {
	idx := bytes.Index(data[pos:], crlfBytes)
	if idx < 0 {
		return nil, 0, false
	}
	return data[pos : pos+idx], pos + idx + len(crlfBytes), true
}

func statusResponse(s Status) *Response {
	return &Response{Kind: KindStatus, Status: s}
}

func errorResponse(kind ErrorKind, msg string) *Response {
	return &Response{Kind: KindError, ErrorKind: kind, ErrorMessage: msg}
}
