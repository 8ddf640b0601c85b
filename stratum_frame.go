package main

import (
	"bytes"
	"errors"
)

var errFrameTooLarge = errors.New("incomplete line exceeds frame limit")

// frameDecoder splits a byte stream into newline-terminated JSON messages.
// Chunk boundaries do not matter: the trailing partial line is kept until the
// rest of it arrives.
type frameDecoder struct {
	buf      []byte
	maxFrame int

	// onMalformed is told about lines that are not valid messages. They are
	// dropped and never end the connection.
	onMalformed func(line []byte, err error)
}

func newFrameDecoder(maxFrame int, onMalformed func(line []byte, err error)) *frameDecoder {
	if maxFrame <= 0 {
		maxFrame = maxFrameBytes
	}
	return &frameDecoder{maxFrame: maxFrame, onMalformed: onMalformed}
}

// feed appends chunk and returns every complete message in arrival order.
func (d *frameDecoder) feed(chunk []byte) ([]*stratumMessage, error) {
	d.buf = append(d.buf, chunk...)
	last := bytes.LastIndexByte(d.buf, '\n')
	if last < 0 {
		if len(d.buf) > d.maxFrame {
			d.buf = nil
			return nil, errFrameTooLarge
		}
		return nil, nil
	}

	var msgs []*stratumMessage
	complete := d.buf[:last]
	for len(complete) > 0 {
		var line []byte
		if idx := bytes.IndexByte(complete, '\n'); idx >= 0 {
			line, complete = complete[:idx], complete[idx+1:]
		} else {
			line, complete = complete, nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		msg, err := parseStratumMessage(line)
		if err != nil {
			if d.onMalformed != nil {
				d.onMalformed(line, err)
			}
			continue
		}
		msgs = append(msgs, msg)
	}

	rest := d.buf[last+1:]
	if len(rest) > d.maxFrame {
		d.buf = nil
		return msgs, errFrameTooLarge
	}
	d.buf = append(d.buf[:0], rest...)
	return msgs, nil
}
