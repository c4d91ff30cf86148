package render

import (
	"fmt"

	"github.com/searchktools/wirehttp/core/http"
)

// Respond encodes v with c into a response carrying c's content type
func Respond(status int, c Codec, v any) (*http.Response, error) {
	body, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Name(), err)
	}
	return http.NewResponse(status).SetContent(c.ContentType(), body), nil
}

// MustRespond is Respond turning encoding failures into a 500
func MustRespond(status int, c Codec, v any) *http.Response {
	resp, err := Respond(status, c, v)
	if err != nil {
		return http.Text(http.StatusInternalServerError, err.Error())
	}
	return resp
}

// Bind decodes the request body with the codec matching its Content-Type.
// Requests without a Content-Type are decoded as JSON.
func Bind(req *http.Request, v any) error {
	c := JSON
	if ct, ok := req.Header(http.HeaderContentType); ok && ct != "" {
		var err error
		if c, err = ByContentType(ct); err != nil {
			return err
		}
	}
	if err := c.Decode(req.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", c.Name(), err)
	}
	return nil
}
