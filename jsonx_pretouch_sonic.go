//go:build !nojsonsimd

package main

import (
	"encoding/json"
	"reflect"

	"github.com/bytedance/sonic"
)

func init() {
	// Sonic uses runtime codegen. Pretouching the message types avoids a
	// first-hit latency spike on the first pool job.
	//
	// Errors are best-effort; we fall back to normal behavior if pretouch fails.
	_ = sonic.Pretouch(reflect.TypeOf(map[string]json.RawMessage{}))
	_ = sonic.Pretouch(reflect.TypeOf(loginRequest{}))
	_ = sonic.Pretouch(reflect.TypeOf(loginParams{}))
	_ = sonic.Pretouch(reflect.TypeOf(benchmarkResponse{}))
	_ = sonic.Pretouch(reflect.TypeOf(statusSnapshot{}))
}
