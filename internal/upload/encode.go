package upload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"maps"
	"mime/multipart"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-runner/internal/config"
)

// payload is an encoded request body, built once and replayed on every attempt.
type payload struct {
	body        []byte
	contentType string
}

type encoder func(cfg config.APIConfig, displayName string, data []byte) (*payload, error)

func encoderFor(mode string) (encoder, error) {
	switch mode {
	case config.ModeMultipart:
		return encodeMultipart, nil
	case config.ModeJSONBase64:
		return encodeJSONBase64, nil
	default:
		return nil, eris.Errorf("upload: invalid upload mode %q", mode)
	}
}

// encodeMultipart sends the file as part field_name named displayName, then
// each extra field as a text part in key order.
func encodeMultipart(cfg config.APIConfig, displayName string, data []byte) (*payload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(cfg.FieldName, displayName)
	if err != nil {
		return nil, eris.Wrap(err, "upload: create file part")
	}
	if _, err := part.Write(data); err != nil {
		return nil, eris.Wrap(err, "upload: write file part")
	}

	for _, k := range slices.Sorted(maps.Keys(cfg.ExtraFields)) {
		if err := w.WriteField(k, cfg.ExtraFields[k]); err != nil {
			return nil, eris.Wrapf(err, "upload: write field %s", k)
		}
	}
	if err := w.Close(); err != nil {
		return nil, eris.Wrap(err, "upload: close multipart writer")
	}

	return &payload{body: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

// encodeJSONBase64 sends {filename_key: displayName, data_key: base64(data)}
// with extra fields merged in at the top level. An extra field with the same
// name as one of the fixed keys replaces it.
func encodeJSONBase64(cfg config.APIConfig, displayName string, data []byte) (*payload, error) {
	doc := make(map[string]string, len(cfg.ExtraFields)+2)
	doc[cfg.JSONFilenameKey] = displayName
	doc[cfg.JSONDataKey] = base64.StdEncoding.EncodeToString(data)
	maps.Copy(doc, cfg.ExtraFields)

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "upload: marshal json payload")
	}
	return &payload{body: body, contentType: "application/json"}, nil
}
