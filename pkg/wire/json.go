package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// JSON is the alternate codec. Numbers decode as json.Number so integer
// arguments keep their precision.
var JSON Codec = &codec[json.RawMessage]{
	name:      SerializerJSON,
	marshal:   json.Marshal,
	unmarshal: unmarshalJSON,
	complete:  json.Valid,
}

var errTrailingData = errors.New("trailing data after JSON value")

// unmarshalJSON decodes exactly one value. Anything after it is an error,
// matching the CBOR codec's treatment of extraneous data.
func unmarshalJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}
