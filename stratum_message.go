package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// stratumMessage is one line of the pool/worker JSON-RPC dialect. raw keeps
// the line exactly as received so it can be forwarded untouched.
type stratumMessage struct {
	ID     any             `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`

	raw []byte
}

type loginParams struct {
	Login    string             `json:"login"`
	Pass     string             `json:"pass"`
	Agent    string             `json:"agent"`
	Algo     []string           `json:"algo"`
	AlgoPerf map[string]float64 `json:"algo-perf"`
}

type loginRequest struct {
	ID      int         `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  loginParams `json:"params"`
}

var errNotJSONObject = errors.New("stratum message is not a JSON object")

// parseStratumMessage decodes one line. Member names are matched exactly, the
// way the pool and the worker spell them.
func parseStratumMessage(line []byte) (*stratumMessage, error) {
	raw := append([]byte(nil), line...)
	if !isJSONObject(raw) {
		return nil, errNotJSONObject
	}
	var members map[string]json.RawMessage
	if err := fastJSONUnmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("decode stratum message: %w", err)
	}
	msg := &stratumMessage{
		Params: members["params"],
		Result: members["result"],
		Error:  members["error"],
		raw:    raw,
	}
	if id, ok := members["id"]; ok {
		_ = fastJSONUnmarshal(id, &msg.ID)
	}
	if method, ok := jsonStringMember(raw, "method"); ok {
		msg.Method = method
	}
	return msg, nil
}

// jsonMember returns the raw value of key in the object obj.
func jsonMember(obj []byte, key string) ([]byte, bool) {
	start, end, ok := findObjectMember(obj, skipSpaces(obj, 0), key)
	if !ok {
		return nil, false
	}
	return obj[start:end], true
}

// jsonStringMember returns the string value of key in obj, if it is one.
func jsonStringMember(obj []byte, key string) (string, bool) {
	v, ok := jsonMember(obj, key)
	if !ok || len(v) == 0 || v[0] != '"' {
		return "", false
	}
	var out string
	if err := fastJSONUnmarshal(v, &out); err != nil {
		return "", false
	}
	return out, true
}

func isJSONObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{'
}

func (m *stratumMessage) isLogin() bool {
	return m.Method == "login"
}

// jobNotification reports a method:"job" push carrying the new job in params.
func (m *stratumMessage) jobNotification() bool {
	return m.Method == "job" && isJSONObject(m.Params)
}

// fullJob reports a login response whose result carries a job object.
func (m *stratumMessage) fullJob() bool {
	_, ok := m.resultJob()
	return ok
}

func (m *stratumMessage) resultJob() ([]byte, bool) {
	if !isJSONObject(m.Result) {
		return nil, false
	}
	job, ok := jsonMember(m.Result, "job")
	if !ok || !isJSONObject(job) {
		return nil, false
	}
	return job, true
}

func (m *stratumMessage) isJob() bool {
	return m.jobNotification() || m.fullJob()
}

// algo resolves the algorithm a job requires: params.algo, then
// result.job.algo, then fallback.
func (m *stratumMessage) algo(fallback string) string {
	if isJSONObject(m.Params) {
		if a, ok := jsonStringMember(m.Params, "algo"); ok && a != "" {
			return a
		}
	}
	if job, ok := m.resultJob(); ok {
		if a, ok := jsonStringMember(job, "algo"); ok && a != "" {
			return a
		}
	}
	return fallback
}

// workerLogin decodes the params of a worker login. Fields of the wrong type
// are reported as absent.
func (m *stratumMessage) workerLogin() loginParams {
	var p loginParams
	if !isJSONObject(m.Params) {
		return p
	}
	if err := fastJSONUnmarshal(m.Params, &p); err == nil {
		return p
	}
	p = loginParams{}
	var loose struct {
		Login any `json:"login"`
		Pass  any `json:"pass"`
		Algo  any `json:"algo"`
	}
	if err := fastJSONUnmarshal(m.Params, &loose); err != nil {
		return p
	}
	if s, ok := loose.Login.(string); ok {
		p.Login = s
	}
	if s, ok := loose.Pass.(string); ok {
		p.Pass = s
	}
	if list, ok := loose.Algo.([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				p.Algo = append(p.Algo, s)
			}
		}
	}
	return p
}

func newPoolLogin(user, pass string, algos []string, perf map[string]float64) loginRequest {
	if algos == nil {
		algos = []string{}
	}
	if perf == nil {
		perf = map[string]float64{}
	}
	return loginRequest{
		ID:      1,
		JSONRPC: "2.0",
		Method:  "login",
		Params: loginParams{
			Login:    user,
			Pass:     pass,
			Agent:    agentString(),
			Algo:     algos,
			AlgoPerf: perf,
		},
	}
}
