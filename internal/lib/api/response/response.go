package response

// Response is the uniform JSON envelope for API handlers.
type Response struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

func OK(data interface{}) Response {
	return Response{Status: "ok", Data: data}
}

func Error(msg string) Response {
	return Response{Status: "error", Error: msg}
}
