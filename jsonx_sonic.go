//go:build !nojsonsimd

package main

import "github.com/bytedance/sonic"

var fastJSON = sonic.ConfigDefault

// prettyJSON sorts map keys so rewritten config files diff cleanly.
var prettyJSON = sonic.ConfigStd

func fastJSONMarshal(v interface{}) ([]byte, error) {
	return fastJSON.Marshal(v)
}

func fastJSONUnmarshal(data []byte, v interface{}) error {
	return fastJSON.Unmarshal(data, v)
}

func fastJSONMarshalIndent(v interface{}) ([]byte, error) {
	return prettyJSON.MarshalIndent(v, "", " ")
}
