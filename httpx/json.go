package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// NewJSONRequest builds a request with a JSON body and an Accept header of
// application/json unless one is supplied.
func (c *Client) NewJSONRequest(ctx context.Context, method, path string, body any, opts ...RequestOption) (*http.Request, error) {
	opts2 := make([]RequestOption, 0, len(opts)+1)
	if body != nil {
		opts2 = append(opts2, WithJSON(body))
	}
	opts2 = append(opts2, opts...)
	req, err := c.NewRequest(ctx, method, path, opts2...)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// ErrExtraJSON is returned when a body holds more than one JSON value.
var ErrExtraJSON = errors.New("httpx: unexpected extra JSON value in response body")

// DoJSONInto performs the request, treats non-2xx as error, and decodes a JSON response into dst.
// The response body is always closed. Body read failures come back as *Error;
// malformed JSON is returned unwrapped so callers can tell the two apart.
func (c *Client) DoJSONInto(req *http.Request, dst any) (*http.Response, error) {
	resp, err := c.DoStatus(req)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()

	if err := DecodeJSON(resp.Body, dst); err != nil {
		var se *json.SyntaxError
		var te *json.UnmarshalTypeError
		if errors.As(err, &se) || errors.As(err, &te) || errors.Is(err, ErrExtraJSON) || errors.Is(err, io.ErrUnexpectedEOF) {
			return resp, err
		}
		return resp, &Error{Method: req.Method, URL: req.URL.String(), Cause: err}
	}
	return resp, nil
}

// DecodeJSON decodes exactly one JSON value from r.
func DecodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return ErrExtraJSON
}

// DoJSON is a generic helper around DoJSONInto.
func DoJSON[T any](c *Client, req *http.Request) (T, *http.Response, error) {
	var out T
	resp, err := c.DoJSONInto(req, &out)
	if err != nil {
		var zero T
		return zero, resp, err
	}
	return out, resp, nil
}
