package main

import (
	"bytes"
)

// findJobSpan returns the byte range of the value of result.job inside a
// full job envelope. The envelope itself is never re-encoded, so splicing
// new job fields into this range keeps every other byte as the pool sent it.
func findJobSpan(data []byte) (int, int, bool) {
	start := skipSpaces(data, 0)
	if start >= len(data) || data[start] != '{' {
		return 0, 0, false
	}
	resStart, resEnd, ok := findObjectMember(data, start, "result")
	if !ok || data[resStart] != '{' {
		return 0, 0, false
	}
	jobStart, jobEnd, ok := findObjectMember(data[:resEnd], resStart, "job")
	if !ok || data[jobStart] != '{' {
		return 0, 0, false
	}
	return jobStart, jobEnd, true
}

// findObjectMember scans the object starting at data[idx] for key and returns
// the span of its value. Duplicate keys resolve to the last occurrence, which
// matches how the JSON decoder reads them.
func findObjectMember(data []byte, idx int, key string) (int, int, bool) {
	if idx >= len(data) || data[idx] != '{' {
		return 0, 0, false
	}
	i := idx + 1
	found := false
	var valStart, valEnd int
	for {
		i = skipSpaces(data, i)
		if i >= len(data) {
			return 0, 0, false
		}
		switch data[i] {
		case '}':
			return valStart, valEnd, found
		case ',':
			i++
			continue
		case '"':
		default:
			return 0, 0, false
		}
		keyEnd, ok := skipJSONString(data, i)
		if !ok {
			return 0, 0, false
		}
		name := data[i+1 : keyEnd-1]
		start, ok := findValueStart(data, keyEnd)
		if !ok {
			return 0, 0, false
		}
		end, ok := skipJSONValue(data, start)
		if !ok {
			return 0, 0, false
		}
		if bytes.Equal(name, []byte(key)) {
			found = true
			valStart, valEnd = start, end
		}
		i = end
	}
}

func findValueStart(data []byte, idx int) (int, bool) {
	idx = skipSpaces(data, idx)
	if idx >= len(data) || data[idx] != ':' {
		return 0, false
	}
	idx = skipSpaces(data, idx+1)
	if idx >= len(data) {
		return 0, false
	}
	return idx, true
}

func skipSpaces(data []byte, idx int) int {
	for idx < len(data) {
		switch data[idx] {
		case ' ', '\t', '\n', '\r':
			idx++
			continue
		default:
			return idx
		}
	}
	return idx
}

// skipJSONString expects data[idx] == '"' and returns the index just past
// the closing quote.
func skipJSONString(data []byte, idx int) (int, bool) {
	i := idx + 1
	for i < len(data) {
		switch data[i] {
		case '\\':
			i += 2
			continue
		case '"':
			return i + 1, true
		}
		i++
	}
	return idx, false
}

// skipJSONValue returns the index just past the value starting at data[idx].
func skipJSONValue(data []byte, idx int) (int, bool) {
	if idx >= len(data) {
		return idx, false
	}
	switch data[idx] {
	case '"':
		return skipJSONString(data, idx)
	case '{', '[':
		depth := 0
		i := idx
		for i < len(data) {
			switch data[i] {
			case '"':
				next, ok := skipJSONString(data, i)
				if !ok {
					return idx, false
				}
				i = next
				continue
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					return i + 1, true
				}
			}
			i++
		}
		return idx, false
	default:
		i := idx
		for i < len(data) {
			switch data[i] {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				if i == idx {
					return idx, false
				}
				return i, true
			}
			i++
		}
		if i == idx {
			return idx, false
		}
		return i, true
	}
}
