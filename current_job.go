package main

import (
	"bytes"
	"errors"
)

var errNoJobSpan = errors.New("job envelope has no result.job object")

// currentJob is the last full job envelope of the current pool session,
// kept as the exact bytes the pool sent. Incremental job notifications are
// spliced into the result.job span so replaying it to a worker that
// reconnects hands over the latest job without re-encoding anything.
type currentJob struct {
	envelope []byte
	jobStart int
	jobEnd   int
}

func (j *currentJob) valid() bool {
	return len(j.envelope) > 0
}

func (j *currentJob) clear() {
	j.envelope = nil
	j.jobStart, j.jobEnd = 0, 0
}

// set replaces the envelope wholesale.
func (j *currentJob) set(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	start, end, ok := findJobSpan(raw)
	if !ok {
		return errNoJobSpan
	}
	j.envelope = append([]byte(nil), raw...)
	j.jobStart, j.jobEnd = start, end
	return nil
}

// merge replaces the result.job value with params.
func (j *currentJob) merge(params []byte) error {
	if !j.valid() {
		return errNoJobSpan
	}
	params = bytes.TrimSpace(params)
	if !isJSONObject(params) {
		return errNoJobSpan
	}
	if bytes.Equal(j.envelope[j.jobStart:j.jobEnd], params) {
		return nil
	}
	tail := j.envelope[j.jobEnd:]
	next := make([]byte, 0, j.jobStart+len(params)+len(tail))
	next = append(next, j.envelope[:j.jobStart]...)
	next = append(next, params...)
	next = append(next, tail...)
	j.envelope = next
	j.jobEnd = j.jobStart + len(params)
	return nil
}

// bytes returns a copy of the envelope, nil when there is none.
func (j *currentJob) bytes() []byte {
	if !j.valid() {
		return nil
	}
	return append([]byte(nil), j.envelope...)
}
