// Package ascii implements the wire format of the memcached text protocol
// (the "ASCII protocol"): the classic storage, retrieval, delete, touch,
// incr/decr, version, flush_all and stats commands, as also spoken by
// proxies such as mcrouter, twemproxy or haproxy setups in front of memcached.
//
// The package does no I/O of its own and makes no decision about
// connections, pooling or retries.
//
// # Encoding
//
// Request is a plain data container. WriteRequest and AppendRequest
// serialize it:
//
//	req := ascii.NewStorageRequest(ascii.CmdSet, "foo", []byte("bar"), 0, 0)
//	buf := ascii.AppendRequest(nil, req) // "set foo 0 0 3\r\nbar\r\n"
//
// Keys are written as given. Validating them (1-250 bytes, no whitespace
// or control characters) is the caller's job.
//
// # Parsing
//
// Parse is an incremental, resumable parser over an accumulating buffer,
// shaped like a bufio.SplitFunc:
//
//	var buf []byte
//	for {
//	    buf = append(buf, readSomeBytes()...)
//	    n, resp, err := ascii.Parse(buf)
//	    if err != nil {
//	        return err // *ParseError: stream is out of sync, close it
//	    }
//	    if resp == nil {
//	        continue // incomplete, read more
//	    }
//	    buf = buf[n:]
//	    return resp
//	}
//
// The result does not depend on how the bytes were chunked, and parsing the
// same buffer twice yields the same result.
//
// # Errors
//
// Lines starting with ERROR, CLIENT_ERROR or SERVER_ERROR are not parse
// errors: they are framed into a Response of KindError and the stream stays
// usable. A *ParseError means the bytes cannot be framed at all.
package ascii
