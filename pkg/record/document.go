package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

const (
	DocumentTypeCreate     = "create"
	DocumentTypeTimeline   = "timeline"
	DocumentTypeCollection = "collection"
	DocumentTypeDelete     = "delete"

	MessageSchema = "https://example.com/schemas/message-v1.json"

	// PlaceholderSignature is sent in place of a real signature over the document.
	PlaceholderSignature = "signature_placeholder"

	// SignedAtLayout always carries three fractional digits, like Date.toISOString.
	SignedAtLayout = "2006-01-02T15:04:05.000Z"
)

type Document struct {
	Key   string `json:"key"`
	Value string `json:"value"`

	Reference string `json:"reference,omitempty"`

	Signer string `json:"signer"`
	KeyID  string `json:"keyID,omitempty"`

	Owner string `json:"owner"`

	Type   string `json:"type"`
	Schema string `json:"schema"`

	SignedAt time.Time `json:"signedAt"`
}

// MarshalJSON writes SignedAt in SignedAtLayout. The document text decides
// the document ID, so the timestamp must not lose trailing zeros.
func (d Document) MarshalJSON() ([]byte, error) {
	type plain Document
	return Marshal(struct {
		plain
		SignedAt string `json:"signedAt"`
	}{
		plain:    plain(d),
		SignedAt: d.SignedAt.UTC().Format(SignedAtLayout),
	})
}

// Commit is the wire envelope. Document holds the JSON text of a Document,
// not the object itself.
type Commit struct {
	Document  string `json:"document"`
	Signature string `json:"signature"`
}

// NewMessage builds the document the pad submits: a "create" of the message
// schema, signed and owned by username.
func NewMessage(key, value, username string, signedAt time.Time) Document {
	return Document{
		Key:   key,
		Value: value,

		Signer: username,
		Owner:  username,

		Type:   DocumentTypeCreate,
		Schema: MessageSchema,

		SignedAt: signedAt.UTC().Truncate(time.Millisecond),
	}
}

// Seal serializes doc and wraps it in an envelope carrying the placeholder signature.
func Seal(doc Document) (Commit, error) {
	text, err := Marshal(doc)
	if err != nil {
		return Commit{}, err
	}
	return Commit{Document: string(text), Signature: PlaceholderSignature}, nil
}

// Open decodes the document text carried by an envelope.
func (c Commit) Open() (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(c.Document), &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Marshal encodes v the way JSON.stringify does: no HTML escaping and no
// trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Pretty re-serializes a JSON body with 2-space indentation the way
// JSON.stringify(JSON.parse(body), null, 2) does: key order is kept and
// numbers are rewritten in their shortest form (1.0 becomes 1, 1e2 becomes 100).
func Pretty(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var out bytes.Buffer
	if err := prettyValue(dec, &out, 0); err != nil {
		return "", err
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", errors.New("invalid character after top-level value")
	}
	return out.String(), nil
}

func prettyValue(dec *json.Decoder, out *bytes.Buffer, depth int) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	open, ok := tok.(json.Delim)
	if !ok {
		return writeScalar(out, tok)
	}

	closing := byte(']')
	if open == '{' {
		closing = '}'
	}
	out.WriteByte(byte(open))

	n := 0
	for dec.More() {
		if n > 0 {
			out.WriteByte(',')
		}
		indent(out, depth+1)
		if open == '{' {
			key, err := dec.Token()
			if err != nil {
				return err
			}
			if err := writeScalar(out, key); err != nil {
				return err
			}
			out.WriteString(": ")
		}
		if err := prettyValue(dec, out, depth+1); err != nil {
			return err
		}
		n++
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	if n > 0 {
		indent(out, depth)
	}
	out.WriteByte(closing)
	return nil
}

func writeScalar(out *bytes.Buffer, tok json.Token) error {
	switch v := tok.(type) {
	case json.Number:
		f, err := v.Float64()
		if math.IsInf(f, 0) {
			// JSON.parse yields Infinity, which stringifies as null.
			out.WriteString("null")
			return nil
		}
		if err != nil {
			return err
		}
		if f == 0 {
			f = 0 // -0 prints as 0
		}
		b, err := Marshal(f)
		if err != nil {
			return err
		}
		out.Write(b)
	case string:
		b, err := Marshal(v)
		if err != nil {
			return err
		}
		out.Write(b)
	case bool:
		out.WriteString(strconv.FormatBool(v))
	case nil:
		out.WriteString("null")
	default:
		return fmt.Errorf("unexpected token %v", tok)
	}
	return nil
}

func indent(out *bytes.Buffer, depth int) {
	out.WriteByte('\n')
	for i := 0; i < depth; i++ {
		out.WriteString("  ")
	}
}
