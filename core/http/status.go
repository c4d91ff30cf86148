package http

// Status codes with a registered reason phrase
const (
	StatusOK                   = 200
	StatusCreated              = 201
	StatusNoContent            = 204
	StatusBadRequest           = 400
	StatusNotFound             = 404
	StatusUnsupportedMediaType = 415
	StatusTooManyRequests      = 429
	StatusInternalServerError  = 500
)

// StatusText returns the reason phrase for code
func StatusText(code int) string {
	switch code {
	case StatusOK:
		return "OK"
	case StatusCreated:
		return "Created"
	case StatusNoContent:
		return "No Content"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusUnsupportedMediaType:
		return "Unsupported Media Type"
	case StatusTooManyRequests:
		return "Too Many Requests"
	case StatusInternalServerError:
		return "Internal Server Error"
	default:
		return "Unknown Status"
	}
}
