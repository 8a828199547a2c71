package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		json string
	}{
		{"get", Request{Kind: Get, Key: "a"}, `{"Get":"a"}`},
		{"set", Request{Kind: Set, Key: "a", Value: "1"}, `{"Set":["a","1"]}`},
		{"rm", Request{Kind: Remove, Key: "a"}, `{"Rm":"a"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.req.MarshalJSON()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tc.json {
				t.Fatalf("got %s, want %s", data, tc.json)
			}

			got, err := ReadRequest(strings.NewReader(tc.json))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.req {
				t.Fatalf("got %+v, want %+v", got, tc.req)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	v := "1"
	cases := []struct {
		name string
		resp Response
		json string
	}{
		{"success_value", Success("1"), `{"Success":"1"}`},
		{"success_none", SuccessNone(), `{"Success":null}`},
		{"error", Failure("Key not found"), `{"Error":"Key not found"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.resp.MarshalJSON()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tc.json {
				t.Fatalf("got %s, want %s", data, tc.json)
			}

			var got Response
			if err := got.UnmarshalJSON(data); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Ok != tc.resp.Ok || got.Err != tc.resp.Err {
				t.Fatalf("got %+v, want %+v", got, tc.resp)
			}
			if (got.Value == nil) != (tc.resp.Value == nil) {
				t.Fatalf("value presence mismatch: got %+v, want %+v", got, tc.resp)
			}
			if got.Value != nil && *got.Value != v {
				t.Fatalf("value mismatch: got %v", *got.Value)
			}
		})
	}
}

func TestReadRequestMalformed(t *testing.T) {
	if _, err := ReadRequest(strings.NewReader(`{"Bogus":"a"}`)); err == nil {
		t.Fatalf("expected error for unrecognized request key")
	}
	if _, err := ReadRequest(strings.NewReader(`not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestWriteResponseSingleDocument(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResponse(&buf, SuccessNone()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if strings.Count(buf.String(), "{") != 1 {
		t.Fatalf("expected exactly one JSON document, got %q", buf.String())
	}
	if want := `{"Success":null}`; buf.String() != want {
		t.Fatalf("expected no bytes beyond the document: got %q, want %q", buf.String(), want)
	}
}

func TestPooledReaderReusedAcrossRequests(t *testing.T) {
	first := GetReader(strings.NewReader(`{"Get":"a"}`))
	req, err := ReadRequest(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req != (Request{Kind: Get, Key: "a"}) {
		t.Fatalf("got %+v", req)
	}
	PutReader(first)

	second := GetReader(strings.NewReader(`{"Rm":"b"}`))
	req, err = ReadRequest(second)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req != (Request{Kind: Remove, Key: "b"}) {
		t.Fatalf("got %+v", req)
	}
	PutReader(second)
}
