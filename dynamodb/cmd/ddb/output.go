package main

import (
	"encoding/json"
	"io"

	"github.com/acksell/ddbmodel/dynamodb/ddbsdk"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

// printer writes items as JSON lines. Numbers keep their exact decimal form.
type printer struct {
	enc *json.Encoder
}

func newPrinter(w io.Writer) *printer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &printer{enc: enc}
}

func (p *printer) item(item ddbsdk.Item) error {
	v, err := plain(item)
	if err != nil {
		return err
	}
	return p.enc.Encode(v)
}

type pageLine struct {
	Items  []map[string]any `json:"items"`
	Count  int              `json:"count"`
	Cursor map[string]any   `json:"cursor,omitempty"`
}

func (p *printer) page(page ddbsdk.Page) error {
	line := pageLine{Items: make([]map[string]any, 0, len(page.Items)), Count: page.Count}
	for _, item := range page.Items {
		v, err := plain(item)
		if err != nil {
			return err
		}
		line.Items = append(line.Items, v)
	}
	if page.Cursor != nil {
		v, err := plain(page.Cursor)
		if err != nil {
			return err
		}
		line.Cursor = v
	}
	return p.enc.Encode(line)
}

// plain decodes an item into JSON-encodable Go values.
func plain(item ddbsdk.Item) (map[string]any, error) {
	var out map[string]any
	err := attributevalue.UnmarshalMapWithOptions(item, &out, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err != nil {
		return nil, err
	}
	for k, v := range out {
		out[k] = jsonNumbers(v)
	}
	return out, nil
}

func jsonNumbers(v any) any {
	switch v := v.(type) {
	case attributevalue.Number:
		return json.Number(v)
	case []attributevalue.Number:
		out := make([]json.Number, len(v))
		for i, n := range v {
			out[i] = json.Number(n)
		}
		return out
	case map[string]any:
		for k, e := range v {
			v[k] = jsonNumbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = jsonNumbers(e)
		}
		return v
	default:
		return v
	}
}
