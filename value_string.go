package gst

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

func isPlainChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		strings.IndexByte("_-+/:.", c) >= 0
}

func quoteIfNeeded(s string) string {
	plain := s != ""
	for i := 0; i < len(s) && plain; i++ {
		plain = isPlainChar(s[i])
	}
	if plain {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

// SerializeValue renders v without a type annotation.
func SerializeValue(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int8, uint8, int16, uint16, int32, uint32, int64, uint64:
		return fmt.Sprint(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return quoteIfNeeded(x)
	case Fraction:
		return x.String()
	case Date:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case Bitmask:
		return fmt.Sprintf("0x%016x", uint64(x))
	case *Buffer:
		return hex.EncodeToString(x.Bytes())
	case *Structure:
		return quoteIfNeeded(x.String())
	case *Caps:
		return quoteIfNeeded(x.String())
	case CapsFeatures:
		return quoteIfNeeded(x.String())
	case IntRange:
		return fmt.Sprintf("[ %d, %d ]", x.Min, x.Max)
	case Int64Range:
		return fmt.Sprintf("[ %d, %d ]", x.Min, x.Max)
	case DoubleRange:
		return fmt.Sprintf("[ %s, %s ]", SerializeValue(x.Min), SerializeValue(x.Max))
	case FractionRange:
		return fmt.Sprintf("[ %s, %s ]", x.Min, x.Max)
	case ValueList:
		return serializeSeq([]any(x), "{ ", " }", commonElemType(x) != "")
	case ValueArray:
		return serializeSeq([]any(x), "< ", " >", commonElemType(x) != "")
	}
	return "NULL"
}

func serializeSeq(vals []any, open, close string, plain bool) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		if plain {
			parts[i] = SerializeValue(v)
		} else {
			parts[i] = serializeTyped(v)
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(open) + strings.TrimSpace(close)
	}
	return open + strings.Join(parts, ", ") + close
}

// elemTypeName is the annotation used in front of v.
func elemTypeName(v any) string {
	switch v.(type) {
	case IntRange:
		return "int"
	case Int64Range:
		return "int64"
	case DoubleRange:
		return "double"
	case FractionRange:
		return "fraction"
	case ValueList, ValueArray:
		return ""
	}
	return ValueTypeName(v)
}

func commonElemType(vals []any) string {
	if len(vals) == 0 {
		return ""
	}
	t := ""
	for _, v := range vals {
		switch v.(type) {
		case IntRange, Int64Range, DoubleRange, FractionRange, ValueList, ValueArray:
			return ""
		}
		n := ValueTypeName(v)
		if t != "" && n != t {
			return ""
		}
		t = n
	}
	return t
}

func serializeTyped(v any) string {
	switch x := v.(type) {
	case ValueList:
		if t := commonElemType(x); t != "" {
			return "(" + t + ")" + SerializeValue(x)
		}
		return SerializeValue(x)
	case ValueArray:
		if t := commonElemType(x); t != "" {
			return "(" + t + ")" + SerializeValue(x)
		}
		return SerializeValue(x)
	}
	return "(" + elemTypeName(v) + ")" + SerializeValue(v)
}

func writeStructure(b *strings.Builder, s *Structure, features *CapsFeatures, withFeatures bool) {
	b.WriteString(s.Name())
	if withFeatures && features != nil && !features.isSystemMemory() {
		b.WriteByte('(')
		b.WriteString(features.String())
		b.WriteByte(')')
	}
	for _, f := range s.fields {
		b.WriteString(", ")
		b.WriteString(f.name.String())
		b.WriteByte('=')
		b.WriteString(serializeTyped(f.value))
	}
}

type parser struct {
	s   string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d in %q", ErrParse, fmt.Sprintf(format, args...), p.pos, p.s)
}

func (p *parser) eof() bool { return p.pos >= len(p.s) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n' || p.s[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) token() string {
	start := p.pos
	for !p.eof() && isPlainChar(p.s[p.pos]) {
		p.pos++
	}
	return p.s[start:p.pos]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

// parseStructure reads "name[(features)], field=value, ...[;]".
func (p *parser) parseStructure(withFeatures bool) (*Structure, *CapsFeatures, error) {
	p.skipSpace()
	name := p.token()
	if name == "" {
		return nil, nil, p.errorf("missing structure name")
	}
	var features *CapsFeatures
	if withFeatures && p.peek() == '(' {
		end := strings.IndexByte(p.s[p.pos:], ')')
		if end < 0 {
			return nil, nil, p.errorf("unterminated caps features")
		}
		f, err := ParseCapsFeatures(p.s[p.pos+1 : p.pos+end])
		if err != nil {
			return nil, nil, err
		}
		features = &f
		p.pos += end + 1
	}
	s := NewStructure(name)
	for {
		p.skipSpace()
		switch p.peek() {
		case 0:
			return s, features, nil
		case ';':
			p.pos++
			return s, features, nil
		case ',':
			p.pos++
		default:
			s.release()
			return nil, nil, p.errorf("expected ',' or ';'")
		}
		p.skipSpace()
		if c := p.peek(); c == 0 || c == ';' {
			continue
		}
		field := p.token()
		if field == "" {
			s.release()
			return nil, nil, p.errorf("missing field name")
		}
		if err := p.expect('='); err != nil {
			s.release()
			return nil, nil, err
		}
		v, err := p.parseValue("")
		if err != nil {
			s.release()
			return nil, nil, err
		}
		s.setField(field, v)
	}
}

func canonicalTypeName(t string) (string, bool) {
	switch t {
	case "i", "int":
		return "int", true
	case "u", "uint":
		return "uint", true
	case "int64", "uint64", "schar", "uchar", "short", "ushort", "fraction", "date",
		"datetime", "buffer", "structure", "caps", "bitmask", "caps-features":
		return t, true
	case "d", "double":
		return "double", true
	case "f", "float":
		return "float", true
	case "b", "bool", "boolean":
		return "boolean", true
	case "s", "str", "string":
		return "string", true
	}
	return "", false
}

func (p *parser) parseValue(hint string) (any, error) {
	p.skipSpace()
	if p.peek() == '(' {
		p.pos++
		t := p.token()
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		canon, ok := canonicalTypeName(t)
		if !ok {
			return nil, p.errorf("unknown type %q", t)
		}
		hint = canon
		p.skipSpace()
	}
	switch p.peek() {
	case '[':
		return p.parseRange(hint)
	case '{':
		vals, err := p.parseSeq('{', '}', hint)
		if err != nil {
			return nil, err
		}
		return ValueList(vals), nil
	case '<':
		vals, err := p.parseSeq('<', '>', hint)
		if err != nil {
			return nil, err
		}
		return ValueArray(vals), nil
	}
	tok, quoted, err := p.parseSimple()
	if err != nil {
		return nil, err
	}
	return p.convert(tok, quoted, hint)
}

func (p *parser) parseSeq(open, close byte, hint string) ([]any, error) {
	p.pos++ // open
	var vals []any
	for {
		p.skipSpace()
		if p.peek() == close {
			p.pos++
			return vals, nil
		}
		if len(vals) > 0 {
			if p.peek() != ',' {
				return nil, p.errorf("expected ',' or %q", close)
			}
			p.pos++
		}
		v, err := p.parseValue(hint)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
}

func (p *parser) parseRange(hint string) (any, error) {
	p.pos++
	lo, err := p.parseValue(hint)
	if err != nil {
		return nil, err
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	hi, err := p.parseValue(hint)
	if err != nil {
		return nil, err
	}
	if err := p.expect(']'); err != nil {
		return nil, err
	}
	switch a := lo.(type) {
	case int32:
		if b, ok := hi.(int32); ok {
			return IntRange{a, b}, nil
		}
	case int64:
		if b, ok := hi.(int64); ok {
			return Int64Range{a, b}, nil
		}
	case float64:
		if b, ok := hi.(float64); ok {
			return DoubleRange{a, b}, nil
		}
		if b, ok := hi.(int32); ok {
			return DoubleRange{a, float64(b)}, nil
		}
	case Fraction:
		if b, ok := hi.(Fraction); ok {
			return FractionRange{a, b}, nil
		}
	}
	return nil, p.errorf("invalid range bounds %s, %s", ValueTypeName(lo), ValueTypeName(hi))
}

func (p *parser) parseSimple() (string, bool, error) {
	if p.peek() == '"' {
		p.pos++
		var b strings.Builder
		for {
			if p.eof() {
				return "", false, p.errorf("unterminated string")
			}
			c := p.s[p.pos]
			p.pos++
			switch c {
			case '\\':
				if p.eof() {
					return "", false, p.errorf("dangling escape")
				}
				b.WriteByte(p.s[p.pos])
				p.pos++
			case '"':
				return b.String(), true, nil
			default:
				b.WriteByte(c)
			}
		}
	}
	tok := p.token()
	if tok == "" {
		return "", false, p.errorf("missing value")
	}
	return tok, false, nil
}

func parseFraction(tok string) (Fraction, error) {
	num, den, found := strings.Cut(tok, "/")
	n, err := strconv.ParseInt(num, 10, 32)
	if err != nil {
		return Fraction{}, err
	}
	d := int64(1)
	if found {
		if d, err = strconv.ParseInt(den, 10, 32); err != nil {
			return Fraction{}, err
		}
		if d == 0 {
			return Fraction{}, fmt.Errorf("zero denominator")
		}
	}
	return NewFraction(int32(n), int32(d)), nil
}

func parseBool(tok string) (bool, bool) {
	switch strings.ToLower(tok) {
	case "true", "yes", "t", "1":
		return true, true
	case "false", "no", "f", "0":
		return false, true
	}
	return false, false
}

func (p *parser) convert(tok string, quoted bool, hint string) (any, error) {
	fail := func(err error) (any, error) {
		return nil, p.errorf("cannot parse %q as %s: %v", tok, hint, err)
	}
	switch hint {
	case "":
		if quoted {
			return tok, nil
		}
		if v, err := strconv.ParseInt(tok, 0, 32); err == nil {
			return int32(v), nil
		}
		if strings.Contains(tok, "/") {
			if f, err := parseFraction(tok); err == nil {
				return f, nil
			}
		}
		if v, err := strconv.ParseFloat(tok, 64); err == nil {
			return v, nil
		}
		if b, ok := parseBool(tok); ok && tok != "0" && tok != "1" {
			return b, nil
		}
		return tok, nil
	case "string":
		return tok, nil
	case "int":
		v, err := strconv.ParseInt(tok, 0, 32)
		if err != nil {
			return fail(err)
		}
		return int32(v), nil
	case "uint":
		v, err := strconv.ParseUint(tok, 0, 32)
		if err != nil {
			return fail(err)
		}
		return uint32(v), nil
	case "int64":
		v, err := strconv.ParseInt(tok, 0, 64)
		if err != nil {
			return fail(err)
		}
		return v, nil
	case "uint64":
		v, err := strconv.ParseUint(tok, 0, 64)
		if err != nil {
			return fail(err)
		}
		return v, nil
	case "schar":
		v, err := strconv.ParseInt(tok, 0, 8)
		if err != nil {
			return fail(err)
		}
		return int8(v), nil
	case "uchar":
		v, err := strconv.ParseUint(tok, 0, 8)
		if err != nil {
			return fail(err)
		}
		return uint8(v), nil
	case "short":
		v, err := strconv.ParseInt(tok, 0, 16)
		if err != nil {
			return fail(err)
		}
		return int16(v), nil
	case "ushort":
		v, err := strconv.ParseUint(tok, 0, 16)
		if err != nil {
			return fail(err)
		}
		return uint16(v), nil
	case "double":
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fail(err)
		}
		return v, nil
	case "float":
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return fail(err)
		}
		return float32(v), nil
	case "boolean":
		b, ok := parseBool(tok)
		if !ok {
			return fail(fmt.Errorf("not a boolean"))
		}
		return b, nil
	case "fraction":
		f, err := parseFraction(tok)
		if err != nil {
			return fail(err)
		}
		return f, nil
	case "date":
		t, err := time.Parse(dateLayout, tok)
		if err != nil {
			return fail(err)
		}
		return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
	case "datetime":
		t, err := time.Parse(time.RFC3339Nano, tok)
		if err != nil {
			return fail(err)
		}
		return t, nil
	case "bitmask":
		v, err := strconv.ParseUint(tok, 0, 64)
		if err != nil {
			return fail(err)
		}
		return Bitmask(v), nil
	case "buffer":
		data, err := hex.DecodeString(tok)
		if err != nil {
			return fail(err)
		}
		return NewBufferFromSlice(data).Buffer, nil
	case "structure":
		s, err := ParseStructure(tok)
		if err != nil {
			return fail(err)
		}
		return s, nil
	case "caps":
		c, err := CapsFromString(tok)
		if err != nil {
			return fail(err)
		}
		return c, nil
	case "caps-features":
		f, err := ParseCapsFeatures(tok)
		if err != nil {
			return fail(err)
		}
		return f, nil
	}
	return nil, p.errorf("unsupported type %s", hint)
}

// DeserializeValue parses text produced by SerializeValue as a value of typeName
// ("int", "double", "caps"...). An empty typeName guesses the type.
func DeserializeValue(text, typeName string) (any, error) {
	p := &parser{s: text}
	v, err := p.parseValue(typeName)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		releaseValue(v)
		return nil, p.errorf("trailing data")
	}
	return v, nil
}
