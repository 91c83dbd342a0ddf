package tuple

import (
	"fmt"
	"strings"
)

const nullToken = "null"

// Format renders t in the tuple text format: fields joined by commas, an
// unavailable field as an empty token and a null field as null. Backslash,
// comma and quote are backslash-escaped; a value whose text is empty, is
// "null" or contains a quote is wrapped in double quotes.
func Format(t Tuple) string {
	d := t.Descriptor()
	var b strings.Builder
	for i := 0; i < d.Count(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		v, state := t.Value(i)
		switch state {
		case NotAvailable:
		case AvailableNull:
			b.WriteString(nullToken)
		default:
			writeToken(&b, d.fields[i].info.format(v))
		}
	}
	return b.String()
}

func writeToken(b *strings.Builder, text string) {
	quote := text == "" || text == nullToken || strings.ContainsRune(text, '"')
	if quote {
		b.WriteByte('"')
	}
	for _, r := range text {
		switch r {
		case '\\', ',', '"':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	if quote {
		b.WriteByte('"')
	}
}

type token struct {
	text   string
	quoted bool
}

// Parse reads text written by Format back into a tuple of d. Field states
// are reconstructed exactly.
func Parse(d *Descriptor, text string) (*PackedTuple, error) {
	tokens, err := tokenize(text, d.Count())
	if err != nil {
		return nil, err
	}
	if len(tokens) != d.Count() {
		return nil, ErrParse.New(fmt.Sprintf("expected %d fields, found %d", d.Count(), len(tokens)))
	}
	p := New(d)
	for i, tok := range tokens {
		if !tok.quoted {
			switch tok.text {
			case "":
				continue
			case nullToken:
				p.setState(i, AvailableNull)
				continue
			}
		}
		v, err := d.fields[i].info.parse(tok.text)
		if err != nil {
			return nil, ErrParse.New(fmt.Sprintf("field %d: %q as %s: %v", i, tok.text, d.types[i], err))
		}
		if err := p.SetValue(i, v); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// MustParse is like Parse but panics on error.
func MustParse(d *Descriptor, text string) *PackedTuple {
	p, err := Parse(d, text)
	if err != nil {
		panic(err)
	}
	return p
}

func tokenize(text string, count int) ([]token, error) {
	if count == 0 {
		if text != "" {
			return nil, ErrParse.New(fmt.Sprintf("expected no fields, found %q", text))
		}
		return nil, nil
	}

	var (
		tokens  []token
		cur     strings.Builder
		quoted  bool
		inQuote bool
		closed  bool
		escaped bool
		start   = true
	)
	flush := func() {
		tokens = append(tokens, token{text: cur.String(), quoted: quoted})
		cur.Reset()
		quoted, inQuote, closed, start = false, false, false, true
	}

	for pos, r := range text {
		switch {
		case escaped:
			if closed {
				return nil, ErrParse.New(fmt.Sprintf("unexpected character at offset %d", pos))
			}
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			if closed {
				return nil, ErrParse.New(fmt.Sprintf("unexpected character at offset %d", pos))
			}
			escaped = true
		case r == '"':
			switch {
			case start:
				quoted, inQuote = true, true
			case inQuote:
				inQuote, closed = false, true
			default:
				return nil, ErrParse.New(fmt.Sprintf("unescaped quote at offset %d", pos))
			}
		case r == ',' && !inQuote:
			flush()
			continue
		default:
			if closed {
				return nil, ErrParse.New(fmt.Sprintf("unexpected character after closing quote at offset %d", pos))
			}
			cur.WriteRune(r)
		}
		start = false
	}

	switch {
	case escaped:
		return nil, ErrParse.New("dangling escape at end of input")
	case inQuote:
		return nil, ErrParse.New("unterminated quoted field")
	}
	flush()
	return tokens, nil
}
