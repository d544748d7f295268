// Package stream emits a query response as one incrementally written JSON
// object, so large results never materialize in memory. The encoder is a
// small state machine: preamble on the first row, rows as they arrive from
// the database, then a trailer carrying the info and warn arrays.
package stream

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// flushEvery bounds how long a slow consumer waits for buffered rows.
const flushEvery = 1000

// Encoder writes the response object for one query.
type Encoder struct {
	w        io.Writer
	flusher  http.Flusher
	version  string
	header   []string
	keyWidth int
	suppress bool

	started bool
	written int
	pending int
}

// NewEncoder prepares an encoder for a result with the given header.
// keyWidth is the number of leading key columns; when suppressNullRows is
// set, rows whose remaining columns are all null are dropped.
func NewEncoder(w io.Writer, version string, header []string, keyWidth int, suppressNullRows bool) *Encoder {
	flusher, _ := w.(http.Flusher)
	return &Encoder{
		w:        w,
		flusher:  flusher,
		version:  version,
		header:   header,
		keyWidth: keyWidth,
		suppress: suppressNullRows,
	}
}

func (e *Encoder) preamble() error {
	e.started = true
	head, err := json.Marshal(e.header)
	if err != nil {
		return errors.Wrap(err, "encoding response header")
	}
	version, err := json.Marshal(e.version)
	if err != nil {
		return errors.Wrap(err, "encoding response version")
	}
	_, err = e.w.Write([]byte(`{"version":` + string(version) + `,"header":` + string(head) + `,"rows":[`))
	return errors.Wrap(err, "writing response preamble")
}

// WriteRow appends one result row. Suppressed rows are silently dropped.
func (e *Encoder) WriteRow(row []any) error {
	if e.suppress && len(row) > e.keyWidth && allNull(row[e.keyWidth:]) {
		return nil
	}
	if !e.started {
		if err := e.preamble(); err != nil {
			return err
		}
	} else if _, err := e.w.Write([]byte(",")); err != nil {
		return errors.Wrap(err, "writing row separator")
	}
	data, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "encoding result row")
	}
	if _, err := e.w.Write(data); err != nil {
		return errors.Wrap(err, "writing result row")
	}
	e.written++
	e.pending++
	if e.pending >= flushEvery && e.flusher != nil {
		e.flusher.Flush()
		e.pending = 0
	}
	return nil
}

// Written reports how many rows reached the client so far.
func (e *Encoder) Written() int {
	return e.written
}

// Close emits the trailer: it closes the rows array and appends the info
// and warn arrays. A result with zero rows gains an info entry so clients
// can tell an empty answer from a truncated one.
func (e *Encoder) Close(info, warn []string) error {
	if !e.started {
		if err := e.preamble(); err != nil {
			return err
		}
	}
	if _, err := e.w.Write([]byte("]")); err != nil {
		return errors.Wrap(err, "closing rows array")
	}
	if e.written == 0 {
		info = append(info, "the query returned no data")
	}
	if err := e.writeList("info", info); err != nil {
		return err
	}
	if err := e.writeList("warn", warn); err != nil {
		return err
	}
	if _, err := e.w.Write([]byte("}")); err != nil {
		return errors.Wrap(err, "closing response object")
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (e *Encoder) writeList(name string, entries []string) error {
	if len(entries) == 0 {
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrapf(err, "encoding %s entries", name)
	}
	_, err = e.w.Write([]byte(`,"` + name + `":` + string(data)))
	return errors.Wrapf(err, "writing %s entries", name)
}

func allNull(values []any) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}
