package telegram

import (
	"encoding/json"
	"io"
	"slices"

	botApi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Params are the named fields of one API call. Values may be primitives,
// file payloads (File, []byte, io.Reader, botApi.RequestFileData) or any
// JSON-encodable value such as a reply markup.
type Params map[string]any

// File is a binary payload uploaded as a multipart part.
type File struct {
	Name   string
	Reader io.Reader
}

// With returns a copy of p with the given fields overridden.
func (p Params) With(overrides Params) Params {
	result := make(Params, len(p)+len(overrides))
	for k, v := range p {
		result[k] = v
	}
	for k, v := range overrides {
		result[k] = v
	}
	return result
}

func (p Params) String(key string) string {
	return cast.ToString(p[key])
}

func (p Params) encode() (botApi.Params, []botApi.RequestFile, error) {
	values := botApi.Params{}
	var files []botApi.RequestFile

	keys := lo.Keys(p)
	slices.Sort(keys)

	for _, key := range keys {
		switch value := p[key].(type) {
		case nil:
			continue
		case File:
			files = append(files, botApi.RequestFile{Name: key, Data: botApi.FileReader{Name: value.Name, Reader: value.Reader}})
		case *File:
			files = append(files, botApi.RequestFile{Name: key, Data: botApi.FileReader{Name: value.Name, Reader: value.Reader}})
		case botApi.RequestFileData:
			files = append(files, botApi.RequestFile{Name: key, Data: value})
		case []byte:
			files = append(files, botApi.RequestFile{Name: key, Data: botApi.FileBytes{Name: key, Bytes: value}})
		case io.Reader:
			files = append(files, botApi.RequestFile{Name: key, Data: botApi.FileReader{Name: key, Reader: value}})
		case string:
			values[key] = value
		case json.Number:
			values[key] = value.String()
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			str, err := cast.ToStringE(value)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "field %s", key)
			}
			values[key] = str
		default:
			data, err := json.Marshal(value)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "field %s", key)
			}
			values[key] = string(data)
		}
	}

	return values, files, nil
}

// loggable replaces file payloads with their names so params can be journaled.
func (p Params) loggable() map[string]any {
	result := make(map[string]any, len(p))
	for key, value := range p {
		switch v := value.(type) {
		case File:
			result[key] = "file:" + v.Name
		case *File:
			result[key] = "file:" + v.Name
		case botApi.RequestFileData:
			if v.NeedsUpload() {
				result[key] = "file:" + key
			} else {
				result[key] = v.SendData()
			}
		case []byte, io.Reader:
			result[key] = "file:" + key
		default:
			result[key] = value
		}
	}
	return result
}
