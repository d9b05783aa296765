package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// envelope is the persistent-cache wire format: opaque data plus an
// integrity checksum binding it to the write timestamp, so a cache
// entry tampered with in place (or simply corrupted) is detected and
// treated as a miss rather than trusted.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Checksum  string          `json:"checksum"`
}

const checksumSalt = "integrity_check_v1"

func checksum(data json.RawMessage, timestamp int64) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte(checksumSalt))
	return hex.EncodeToString(h.Sum(nil))
}

// sealEnvelope marshals v and wraps it with a checksum anchored to the
// current time.
func sealEnvelope(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	ts := time.Now().UnixMilli()
	env := envelope{Data: raw, Timestamp: ts, Checksum: checksum(raw, ts)}
	return json.Marshal(env)
}

// openEnvelope unmarshals blob into out, returning ok=false (no error)
// on a checksum mismatch — the caller treats that as a cache miss.
func openEnvelope(blob []byte, out any) (ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return false, err
	}
	if checksum(env.Data, env.Timestamp) != env.Checksum {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, err
	}
	return true, nil
}
