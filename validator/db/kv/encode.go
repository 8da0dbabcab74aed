package kv

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

func encode(v interface{}) ([]byte, error) {
	enc, err := jsonCodec.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode record")
	}
	return enc, nil
}

func decode(data []byte, v interface{}) error {
	if err := jsonCodec.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "could not decode record")
	}
	return nil
}
