package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kolo/xmlrpc"

	"secure-xmlrpc/message"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// EncodeCall renders a methodCall document for method with the given params.
func EncodeCall(method string, params ...any) ([]byte, error) {
	return xmlrpc.EncodeMethodCall(method, params...)
}

// EncodeResponse renders a successful methodResponse carrying v.
func EncodeResponse(v any) ([]byte, error) {
	val, err := marshalValue(v)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString(xmlHeader)
	b.WriteString("<methodResponse><params><param>")
	b.Write(val)
	b.WriteString("</param></params></methodResponse>")
	return b.Bytes(), nil
}

// faultValue is the wire shape of a fault struct.
type faultValue struct {
	Code   int    `xmlrpc:"faultCode"`
	String string `xmlrpc:"faultString"`
}

// EncodeFault renders a fault methodResponse.
func EncodeFault(f *message.Fault) []byte {
	// A struct of an int and a string always encodes.
	val, _ := marshalValue(faultValue{Code: f.Code, String: f.String})
	var b bytes.Buffer
	b.WriteString(xmlHeader)
	b.WriteString("<methodResponse><fault>")
	b.Write(val)
	b.WriteString("</fault></methodResponse>")
	return b.Bytes()
}

// DecodeResponse parses a methodResponse body into reply.
//
// A body that is not a well-formed methodResponse yields a parse fault; a fault
// response yields the remote fault with its code and string untouched.
func DecodeResponse(body []byte, reply any) error {
	if err := wellFormed(body, "methodResponse"); err != nil {
		return message.ParseFault(err)
	}
	resp := xmlrpc.Response(body)
	if err := resp.Err(); err != nil {
		var fault xmlrpc.FaultError
		if errors.As(err, &fault) {
			return message.NewFault(fault.Code, fault.String)
		}
		return message.ParseFault(err)
	}
	if reply == nil {
		return nil
	}
	if err := resp.Unmarshal(reply); err != nil {
		return message.ParseFault(err)
	}
	return nil
}

type methodCall struct {
	XMLName    xml.Name   `xml:"methodCall"`
	MethodName string     `xml:"methodName"`
	Params     []rawParam `xml:"params>param"`
}

type rawParam struct {
	Value struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"value"`
}

// DecodeCall parses a methodCall document.
//
// As with IXR servers, a call with exactly one array parameter is flattened:
// Args holds the array elements rather than a one-element list of the array.
func DecodeCall(body []byte) (*message.Call, error) {
	var mc methodCall
	if err := xml.Unmarshal(body, &mc); err != nil {
		return nil, message.ParseFault(err)
	}
	name := strings.TrimSpace(mc.MethodName)
	if name == "" {
		return nil, message.NewFault(message.CodeInvalidRequest,
			"server error. invalid xml-rpc. request must be a methodCall")
	}

	params := make([]any, 0, len(mc.Params))
	for i, p := range mc.Params {
		v, err := unmarshalValue(p.Value.Inner)
		if err != nil {
			return nil, message.ParseFault(fmt.Errorf("param %d: %w", i, err))
		}
		params = append(params, v)
	}

	call := &message.Call{Method: name, Args: params}
	if len(params) == 1 {
		if arr, ok := params[0].([]any); ok {
			call.Args = arr
		}
	}
	return call, nil
}

func unmarshalValue(inner []byte) (any, error) {
	trimmed := bytes.TrimSpace(inner)
	if len(trimmed) == 0 {
		return "", nil
	}
	// untyped values are strings
	if trimmed[0] != '<' {
		inner = append(append([]byte("<string>"), inner...), "</string>"...)
	}
	doc := make([]byte, 0, len(inner)+len("<value></value>"))
	doc = append(doc, "<value>"...)
	doc = append(doc, inner...)
	doc = append(doc, "</value>"...)

	var v any
	if err := xmlrpc.Response(doc).Unmarshal(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// marshalValue renders v as a single <value> element. The xmlrpc package only
// exposes its encoder through whole methodCall documents, so the value is cut
// out of a one-parameter call.
func marshalValue(v any) ([]byte, error) {
	if v == nil {
		return []byte("<value/>"), nil
	}
	doc, err := xmlrpc.EncodeMethodCall("", v)
	if err != nil {
		return nil, err
	}
	start := bytes.Index(doc, []byte("<param>"))
	end := bytes.LastIndex(doc, []byte("</param>"))
	if start < 0 || end < start {
		return nil, fmt.Errorf("codec: unexpected encoder output")
	}
	return doc[start+len("<param>") : end], nil
}

// wellFormed walks the whole document and checks its root element.
func wellFormed(body []byte, root string) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	depth := 0
	seenRoot := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if seenRoot {
					return fmt.Errorf("multiple root elements")
				}
				if t.Name.Local != root {
					return fmt.Errorf("root element is <%s>, want <%s>", t.Name.Local, root)
				}
				seenRoot = true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if !seenRoot {
		return fmt.Errorf("no <%s> element", root)
	}
	return nil
}
